package llms

import (
	"net/http"
	"time"

	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/httpclient"
)

// newProviderHTTPClient builds the shared retrying client (3
// retries, 1s base delay, 30s cap, per-provider timeout) for one provider,
// using that provider's rate-limit header parser.
func newProviderHTTPClient(cfg config.ProviderConfig, parser httpclient.HeaderParser) *httpclient.Client {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithHeaderParser(parser),
	)
}
