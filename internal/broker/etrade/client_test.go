package etrade

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-assistant/internal/types"
)

// staticSession signs with a fixed header so client tests need no handshake.
type staticSession struct{ authenticated bool }

func (s *staticSession) Initiate(ctx context.Context) (string, error) { return "", nil }
func (s *staticSession) Complete(ctx context.Context, code string) error {
	return nil
}
func (s *staticSession) Sign(req *http.Request) error {
	if !s.authenticated {
		return types.ErrNotAuthenticated
	}
	req.Header.Set("Authorization", "OAuth signed")
	return nil
}
func (s *staticSession) IsAuthenticated() bool { return s.authenticated }
func (s *staticSession) Disconnect()           { s.authenticated = false }

func testClient(srv *httptest.Server) *Client {
	return NewClient(&staticSession{authenticated: true},
		Endpoints{APIBase: srv.URL}, srv.Client())
}

func TestBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/acct-1/balance.json", r.URL.Path)
		assert.Equal(t, "OAuth signed", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"BalanceResponse":{"Computed":{"RealTimeValues":{"totalAccountValue":10500.25},"cashAvailableForInvestment":2500.50}}}`)
	}))
	defer srv.Close()

	b, err := testClient(srv).Balance(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "10500.25", b.AccountValue.String())
	assert.Equal(t, "2500.5", b.Cash.String())
}

func TestPositions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"PortfolioResponse":{"AccountPortfolio":[{"Position":[
			{"Product":{"symbol":"AAPL"},"quantity":10,"totalCost":1500,"marketValue":1800},
			{"Product":{"symbol":"MSFT"},"quantity":5,"totalCost":2000,"marketValue":2100}
		]}]}}`)
	}))
	defer srv.Close()

	ps, err := testClient(srv).Positions(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "AAPL", ps[0].Symbol)
	assert.Equal(t, 10, ps[0].Quantity)
	assert.False(t, ps[0].SyncedAt.IsZero())
}

func TestPreviewOrderSendsXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/xml", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<PreviewOrderRequest>")
		assert.Contains(t, string(body), "<symbol>AAPL</symbol>")
		assert.Contains(t, string(body), "<orderAction>BUY</orderAction>")
		assert.Contains(t, string(body), "<priceType>MARKET</priceType>")
		fmt.Fprint(w, `{"PreviewOrderResponse":{"PreviewIds":[{"previewId":123456}],"Order":[{"estimatedTotalAmount":1825.00,"estimatedCommission":0}]}}`)
	}))
	defer srv.Close()

	req := types.OrderRequest{Symbol: "AAPL", Action: types.Buy, Quantity: 10, PriceType: "MARKET", OrderTerm: "GOOD_FOR_DAY"}
	p, err := testClient(srv).PreviewOrder(context.Background(), "acct-1", req)
	require.NoError(t, err)
	assert.Equal(t, "123456", p.PreviewID)
	assert.Equal(t, "1825", p.EstimatedCost.String())
}

func TestPreviewOrderValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the broker")
	}))
	defer srv.Close()
	c := testClient(srv)

	cases := []types.OrderRequest{
		{Symbol: "", Action: types.Buy, Quantity: 1, PriceType: "MARKET"},
		{Symbol: "AAPL", Action: types.Hold, Quantity: 1, PriceType: "MARKET"},
		{Symbol: "AAPL", Action: types.Buy, Quantity: 0, PriceType: "MARKET"},
		{Symbol: "AAPL", Action: types.Buy, Quantity: 1, PriceType: "LIMIT"},
	}
	for _, req := range cases {
		_, err := c.PreviewOrder(context.Background(), "acct-1", req)
		var rej *types.BrokerRejectionError
		assert.ErrorAs(t, err, &rej)
	}
}

func TestPlaceOrderCarriesPreviewID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<PlaceOrderRequest>")
		assert.Contains(t, string(body), "<previewId>123456</previewId>")
		fmt.Fprint(w, `{"PlaceOrderResponse":{"OrderIds":[{"orderId":777}],"Order":[{"estimatedTotalAmount":1825.00}]}}`)
	}))
	defer srv.Close()

	req := types.OrderRequest{Symbol: "AAPL", Action: types.Buy, Quantity: 10, PriceType: "MARKET", OrderTerm: "GOOD_FOR_DAY"}
	out, err := testClient(srv).PlaceOrder(context.Background(), "acct-1", req, "123456")
	require.NoError(t, err)
	assert.Equal(t, "777", out.OrderID)
	assert.Equal(t, "EXECUTED", out.Status)
}

func TestPlaceOrderWithoutPreview(t *testing.T) {
	c := testClient(httptest.NewServer(http.NotFoundHandler()))
	req := types.OrderRequest{Symbol: "AAPL", Action: types.Buy, Quantity: 1, PriceType: "MARKET"}
	_, err := c.PlaceOrder(context.Background(), "acct-1", req, "")
	var rej *types.BrokerRejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "place", rej.Operation)
}

func TestBrokerRejectionSurfacesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"Error":{"code":1033,"message":"Insufficient funds in the account"}}`)
	}))
	defer srv.Close()

	req := types.OrderRequest{Symbol: "AAPL", Action: types.Buy, Quantity: 10, PriceType: "MARKET", OrderTerm: "GOOD_FOR_DAY"}
	_, err := testClient(srv).PreviewOrder(context.Background(), "acct-1", req)
	var rej *types.BrokerRejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "preview", rej.Operation)
	assert.Equal(t, "Insufficient funds in the account", rej.Reason)
}

func TestUnauthenticatedSessionBlocksCalls(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c := NewClient(&staticSession{authenticated: false}, Endpoints{APIBase: srv.URL}, srv.Client())

	_, err := c.Balance(context.Background(), "acct-1")
	assert.ErrorIs(t, err, types.ErrNotAuthenticated)
}

func TestListOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "OPEN", r.URL.Query().Get("status"))
		fmt.Fprint(w, `{"OrdersResponse":{"Order":[{"orderId":1,"OrderDetail":[{"status":"OPEN","estimatedTotalAmount":100}]}]}}`)
	}))
	defer srv.Close()

	orders, err := testClient(srv).ListOrders(context.Background(), "acct-1", "OPEN")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "OPEN", orders[0].Status)
}

func TestCancelOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<orderId>777</orderId>")
		fmt.Fprint(w, `{"CancelOrderResponse":{}}`)
	}))
	defer srv.Close()

	assert.NoError(t, testClient(srv).CancelOrder(context.Background(), "acct-1", "777"))
}
