package inventory

import (
	"context"
	"net/url"

	"github.com/ahrav/reg-armada/internal/domain/registration"
	"github.com/ahrav/reg-armada/internal/infra/transport"
)

var (
	_ registration.PhoneSource = (*RemoteSource)(nil)
	_ registration.PhoneSource = (*StaticSource)(nil)
)

// Requester is the subset of the server transport used to fetch phones.
type Requester interface {
	Get(ctx context.Context, op int, query url.Values) (*transport.Response, error)
}

// RemoteSource fetches the available-number list from the server.
type RemoteSource struct {
	transport Requester
}

// NewRemoteSource creates a RemoteSource.
func NewRemoteSource(t Requester) *RemoteSource { return &RemoteSource{transport: t} }

// FetchPhones issues the authenticated phone-list request.
func (s *RemoteSource) FetchPhones(ctx context.Context) ([]registration.PhoneNumber, error) {
	resp, err := s.transport.Get(ctx, transport.OpPhones, nil)
	if err != nil {
		return nil, err
	}
	phones, err := registration.ParsePhoneList([]byte(resp.Body))
	if err != nil {
		return nil, registration.NewUnexpectedResponseError("phone list %q: %v", truncate(resp.Body, 64), err)
	}
	return phones, nil
}

// StaticSource serves a fixed list, used when phones come from local config.
type StaticSource struct {
	phones []registration.PhoneNumber
}

// NewStaticSource creates a StaticSource from plain numbers.
func NewStaticSource(numbers ...string) *StaticSource {
	s := &StaticSource{}
	for _, n := range numbers {
		if p := registration.NewPhoneNumber(n); p.Number != "" {
			s.phones = append(s.phones, p)
		}
	}
	return s
}

// FetchPhones returns a copy of the configured list.
func (s *StaticSource) FetchPhones(ctx context.Context) ([]registration.PhoneNumber, error) {
	return append([]registration.PhoneNumber(nil), s.phones...), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
