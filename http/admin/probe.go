package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rainbow-me/service-runtime/common/logger"
	httpclient "github.com/rainbow-me/service-runtime/http"
	"github.com/rainbow-me/service-runtime/http/interceptors/resty"
)

var ErrUnhealthy = errors.New("service reported unhealthy")

// Probe calls the health endpoint of the admin server at baseURL. It is meant for
// container liveness commands where no shell or curl is available.
func Probe(ctx context.Context, baseURL string, timeout time.Duration, log *logger.Logger) error {
	client := httpclient.NewRestyWithClient(&http.Client{Timeout: timeout}, log,
		resty.WithTracingEnabled(false),
		resty.WithClientID("probe"),
	)

	resp, err := client.R().SetContext(ctx).Get(baseURL + HealthPath)
	if err != nil {
		return errors.Wrap(err, "health probe failed")
	}
	if resp.IsError() {
		return errors.Wrapf(ErrUnhealthy, "%s: %s", resp.Status(), resp.String())
	}
	return nil
}
