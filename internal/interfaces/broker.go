package interfaces

import (
	"context"
	"net/http"

	"trading-assistant/internal/types"
)

// Session is the authenticated OAuth1 channel to the brokerage. It owns the
// consumer and token secrets exclusively; other components only ever see the
// signing capability.
type Session interface {
	// Initiate requests a temporary token and returns the URL the user must
	// visit to authorize it. Valid only when unauthenticated.
	Initiate(ctx context.Context) (authorizeURL string, err error)

	// Complete exchanges the authorized temporary token plus the user's
	// verification code for a long-lived access token.
	Complete(ctx context.Context, verificationCode string) error

	// Sign adds an OAuth1 signature to the request. Fails with
	// types.ErrNotAuthenticated unless the session is authenticated.
	Sign(req *http.Request) error

	IsAuthenticated() bool

	// Disconnect destroys the session's tokens and returns it to the
	// unauthenticated state.
	Disconnect()
}

// Broker exposes the signed REST surface of the brokerage for one account.
type Broker interface {
	Balance(ctx context.Context, accountID string) (types.Balance, error)
	Positions(ctx context.Context, accountID string) ([]types.Position, error)
	PreviewOrder(ctx context.Context, accountID string, req types.OrderRequest) (types.OrderPreview, error)
	// PlaceOrder submits the order previously previewed under previewID.
	PlaceOrder(ctx context.Context, accountID string, req types.OrderRequest, previewID string) (types.OrderOutcome, error)
	ListOrders(ctx context.Context, accountID string, status string) ([]types.OrderOutcome, error)
	CancelOrder(ctx context.Context, accountID string, orderID string) error
}
