package llm

// Middleware wraps an LLMClient with additional behavior such as retry,
// timeout enforcement, or metrics collection.
type Middleware func(next LLMClient) LLMClient

// Chain composes middlewares around a base client. The first middleware in
// the list becomes the outermost layer, so
//
//	Chain(base, Metrics(), Retry(), Timeout())
//
// yields Metrics(Retry(Timeout(base))): requests pass through metrics first
// and the timeout is applied closest to the wire.
func Chain(base LLMClient, mws ...Middleware) LLMClient {
	wrapped := base
	for i := len(mws) - 1; i >= 0; i-- {
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
