package httpapi

// Result envelope of every JSON endpoint. Code is 2000 on success and -1 on
// error; Type mirrors it as "success" or "error".
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
)

// Succeeded reports whether the envelope carries a result.
func (r Result[T]) Succeeded() bool {
	return r.Code == ResultSuccess
}

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

// Fail error envelope; result is always null.
func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message}
}
