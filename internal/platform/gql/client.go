package gql

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/machinebox/graphql"
	"github.com/rs/zerolog"
)

// StatusError is returned for any non-2xx response from the endpoint.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("graphql endpoint returned %s", e.Status)
}

// New builds the process-wide GraphQL client bound to endpoint.
func New(endpoint string, timeout time.Duration, logger zerolog.Logger) *graphql.Client {
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: statusTransport{next: http.DefaultTransport},
	}
	client := graphql.NewClient(endpoint, graphql.WithHTTPClient(httpClient))
	client.Log = func(s string) {
		logger.Trace().Str("endpoint", endpoint).Msg(s)
	}
	return client
}

// statusTransport turns non-2xx responses into errors so that the GraphQL
// client never decodes an error page as an empty result.
type statusTransport struct {
	next http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
		_ = res.Body.Close()
		return nil, &StatusError{StatusCode: res.StatusCode, Status: res.Status}
	}
	return res, nil
}
