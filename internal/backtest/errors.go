package backtest

import "errors"

// Sentinel kinds. Match them with errors.Is; the HTTP layer maps them to
// 400, 404 and 422.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrUnprocessable = errors.New("unprocessable")
)

// User-facing detail messages.
const (
	msgNoStocks      = "请输入至少一只股票或代码"
	msgTooManyFormat = "一次最多回测 %d 只股票"
	msgBadWindow     = "结束日期需晚于推荐日期"
	msgNoResolved    = "未找到可回测的股票代码"
	msgNoData        = "所选股票区间缺少行情数据"
	msgNoBacktest    = "回测不存在"
)

// Error is a classified failure carrying the message shown to the caller.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string { return e.Detail }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Detail returns the user-facing message of err, or "" when err is not
// classified.
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return ""
}
