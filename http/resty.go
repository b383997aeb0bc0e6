package http

import (
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/rainbow-me/service-runtime/common/logger"
	interceptors "github.com/rainbow-me/service-runtime/http/interceptors/resty"
)

// NewRestyWithClient returns a resty client over client with tracing and request id
// propagation installed.
func NewRestyWithClient(client *http.Client, log *logger.Logger, opt ...interceptors.InterceptorOpt) *resty.Client {
	restyClient := resty.NewWithClient(client)
	interceptors.InjectInterceptors(restyClient, opt...)

	if log != nil {
		restyClient.SetLogger(log.Sugar())
	}
	return restyClient
}
