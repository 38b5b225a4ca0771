package etrade

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/logger"
	"trading-assistant/internal/types"
)

var _ interfaces.Broker = (*Client)(nil)

// Client is the signed REST client for account, portfolio, and order
// endpoints. Requests are XML, responses JSON, matching the broker's API.
type Client struct {
	session    interfaces.Session
	base       string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient builds a broker client over an authenticated session.
func NewClient(session interfaces.Session, endpoints Endpoints, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		session:    session,
		base:       endpoints.APIBase,
		httpClient: httpClient,
		now:        time.Now,
	}
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"Error"`
}

// do signs and sends a request, decoding error bodies into a broker
// rejection where the API reports one.
func (c *Client) do(ctx context.Context, method, path, operation string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/xml")
	}
	if err := c.session.Sign(req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		var ae apiError
		if json.Unmarshal(respBody, &ae) == nil && ae.Error.Message != "" {
			return nil, &types.BrokerRejectionError{Operation: operation, Reason: ae.Error.Message}
		}
		return nil, &types.BrokerRejectionError{
			Operation: operation,
			Reason:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}
	return respBody, nil
}

// Balance fetches the account's real-time balance.
func (c *Client) Balance(ctx context.Context, accountID string) (types.Balance, error) {
	path := fmt.Sprintf("/v1/accounts/%s/balance.json?instType=BROKERAGE&realTimeNAV=true", accountID)
	body, err := c.do(ctx, http.MethodGet, path, "balance", nil)
	if err != nil {
		return types.Balance{}, err
	}
	var resp struct {
		BalanceResponse struct {
			Computed struct {
				RealTimeValues struct {
					TotalAccountValue float64 `json:"totalAccountValue"`
				} `json:"RealTimeValues"`
				CashAvailableForInvestment float64 `json:"cashAvailableForInvestment"`
			} `json:"Computed"`
		} `json:"BalanceResponse"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.Balance{}, fmt.Errorf("parse balance: %w", err)
	}
	return types.Balance{
		AccountValue: decimal.NewFromFloat(resp.BalanceResponse.Computed.RealTimeValues.TotalAccountValue),
		Cash:         decimal.NewFromFloat(resp.BalanceResponse.Computed.CashAvailableForInvestment),
	}, nil
}

// Positions fetches the account's portfolio positions.
func (c *Client) Positions(ctx context.Context, accountID string) ([]types.Position, error) {
	path := fmt.Sprintf("/v1/accounts/%s/portfolio.json", accountID)
	body, err := c.do(ctx, http.MethodGet, path, "portfolio", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		PortfolioResponse struct {
			AccountPortfolio []struct {
				Position []struct {
					Product struct {
						Symbol string `json:"symbol"`
					} `json:"Product"`
					Quantity    float64 `json:"quantity"`
					TotalCost   float64 `json:"totalCost"`
					MarketValue float64 `json:"marketValue"`
				} `json:"Position"`
			} `json:"AccountPortfolio"`
		} `json:"PortfolioResponse"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse portfolio: %w", err)
	}
	now := c.now().UTC()
	var out []types.Position
	for _, ap := range resp.PortfolioResponse.AccountPortfolio {
		for _, p := range ap.Position {
			out = append(out, types.Position{
				Symbol:      p.Product.Symbol,
				Quantity:    int(p.Quantity),
				CostBasis:   decimal.NewFromFloat(p.TotalCost),
				MarketValue: decimal.NewFromFloat(p.MarketValue),
				SyncedAt:    now,
			})
		}
	}
	return out, nil
}

type orderPayload struct {
	XMLName       xml.Name `xml:""`
	OrderType     string   `xml:"orderType"`
	ClientOrderID string   `xml:"clientOrderId"`
	PreviewIDs    *struct {
		PreviewID string `xml:"previewId"`
	} `xml:"PreviewIds,omitempty"`
	Order struct {
		AllOrNone     string `xml:"allOrNone"`
		PriceType     string `xml:"priceType"`
		OrderTerm     string `xml:"orderTerm"`
		MarketSession string `xml:"marketSession"`
		StopPrice     string `xml:"stopPrice"`
		LimitPrice    string `xml:"limitPrice"`
		Instrument    struct {
			Product struct {
				SecurityType string `xml:"securityType"`
				Symbol       string `xml:"symbol"`
			} `xml:"Product"`
			OrderAction  string `xml:"orderAction"`
			QuantityType string `xml:"quantityType"`
			Quantity     int    `xml:"quantity"`
		} `xml:"Instrument"`
	} `xml:"Order"`
}

func buildOrderXML(root string, req types.OrderRequest, clientOrderID, previewID string) ([]byte, error) {
	p := orderPayload{XMLName: xml.Name{Local: root}}
	p.OrderType = "EQ"
	p.ClientOrderID = clientOrderID
	if previewID != "" {
		p.PreviewIDs = &struct {
			PreviewID string `xml:"previewId"`
		}{PreviewID: previewID}
	}
	p.Order.AllOrNone = "false"
	p.Order.PriceType = req.PriceType
	p.Order.OrderTerm = req.OrderTerm
	p.Order.MarketSession = "REGULAR"
	if req.LimitPrice != nil {
		p.Order.LimitPrice = req.LimitPrice.String()
	}
	p.Order.Instrument.Product.SecurityType = "EQ"
	p.Order.Instrument.Product.Symbol = req.Symbol
	p.Order.Instrument.OrderAction = string(req.Action)
	p.Order.Instrument.QuantityType = "QUANTITY"
	p.Order.Instrument.Quantity = req.Quantity
	return xml.Marshal(p)
}

func validateOrder(req types.OrderRequest) error {
	if req.Symbol == "" {
		return &types.BrokerRejectionError{Operation: "preview", Reason: "empty symbol"}
	}
	if req.Action != types.Buy && req.Action != types.Sell {
		return &types.BrokerRejectionError{Operation: "preview", Reason: fmt.Sprintf("unsupported action %s", req.Action)}
	}
	if req.Quantity <= 0 {
		return &types.BrokerRejectionError{Operation: "preview", Reason: "quantity must be positive"}
	}
	if req.PriceType == "LIMIT" && req.LimitPrice == nil {
		return &types.BrokerRejectionError{Operation: "preview", Reason: "limit order without limit price"}
	}
	return nil
}

// PreviewOrder asks the broker to validate and cost the order.
func (c *Client) PreviewOrder(ctx context.Context, accountID string, req types.OrderRequest) (types.OrderPreview, error) {
	if err := validateOrder(req); err != nil {
		return types.OrderPreview{}, err
	}
	clientOrderID := fmt.Sprintf("ta%d", c.now().UnixNano()%1_000_000_000)
	payload, err := buildOrderXML("PreviewOrderRequest", req, clientOrderID, "")
	if err != nil {
		return types.OrderPreview{}, fmt.Errorf("build preview payload: %w", err)
	}
	path := fmt.Sprintf("/v1/accounts/%s/orders/preview.json", accountID)
	body, err := c.do(ctx, http.MethodPost, path, "preview", payload)
	if err != nil {
		return types.OrderPreview{}, err
	}
	var resp struct {
		PreviewOrderResponse struct {
			PreviewIds []struct {
				PreviewID json.Number `json:"previewId"`
			} `json:"PreviewIds"`
			Order []struct {
				EstimatedTotalAmount float64 `json:"estimatedTotalAmount"`
				EstimatedCommission  float64 `json:"estimatedCommission"`
			} `json:"Order"`
		} `json:"PreviewOrderResponse"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.OrderPreview{}, fmt.Errorf("parse preview: %w", err)
	}
	pr := resp.PreviewOrderResponse
	if len(pr.PreviewIds) == 0 {
		return types.OrderPreview{}, &types.BrokerRejectionError{Operation: "preview", Reason: "no preview id returned"}
	}
	out := types.OrderPreview{PreviewID: pr.PreviewIds[0].PreviewID.String()}
	if len(pr.Order) > 0 {
		out.EstimatedCost = decimal.NewFromFloat(pr.Order[0].EstimatedTotalAmount)
		out.EstimatedCommission = decimal.NewFromFloat(pr.Order[0].EstimatedCommission)
	}
	return out, nil
}

// PlaceOrder submits the previously previewed order.
func (c *Client) PlaceOrder(ctx context.Context, accountID string, req types.OrderRequest, previewID string) (types.OrderOutcome, error) {
	if previewID == "" {
		return types.OrderOutcome{}, &types.BrokerRejectionError{Operation: "place", Reason: "missing preview id"}
	}
	if err := validateOrder(req); err != nil {
		return types.OrderOutcome{}, err
	}
	clientOrderID := fmt.Sprintf("ta%d", c.now().UnixNano()%1_000_000_000)
	payload, err := buildOrderXML("PlaceOrderRequest", req, clientOrderID, previewID)
	if err != nil {
		return types.OrderOutcome{}, fmt.Errorf("build place payload: %w", err)
	}
	path := fmt.Sprintf("/v1/accounts/%s/orders/place.json", accountID)
	body, err := c.do(ctx, http.MethodPost, path, "place", payload)
	if err != nil {
		return types.OrderOutcome{}, err
	}
	var resp struct {
		PlaceOrderResponse struct {
			OrderIds []struct {
				OrderID json.Number `json:"orderId"`
			} `json:"OrderIds"`
			Order []struct {
				EstimatedTotalAmount float64 `json:"estimatedTotalAmount"`
			} `json:"Order"`
		} `json:"PlaceOrderResponse"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.OrderOutcome{}, fmt.Errorf("parse place: %w", err)
	}
	pr := resp.PlaceOrderResponse
	if len(pr.OrderIds) == 0 {
		return types.OrderOutcome{}, &types.BrokerRejectionError{Operation: "place", Reason: "no order id returned"}
	}
	out := types.OrderOutcome{OrderID: pr.OrderIds[0].OrderID.String(), Status: "EXECUTED"}
	if len(pr.Order) > 0 {
		out.EstimatedCost = decimal.NewFromFloat(pr.Order[0].EstimatedTotalAmount)
	}
	logger.Info(ctx, "Order placed", "order_id", out.OrderID, "symbol", req.Symbol)
	return out, nil
}

// ListOrders fetches recent orders, optionally filtered by status.
func (c *Client) ListOrders(ctx context.Context, accountID string, status string) ([]types.OrderOutcome, error) {
	path := fmt.Sprintf("/v1/accounts/%s/orders.json", accountID)
	if status != "" {
		path += "?status=" + status
	}
	body, err := c.do(ctx, http.MethodGet, path, "orders", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		OrdersResponse struct {
			Order []struct {
				OrderID     json.Number `json:"orderId"`
				OrderDetail []struct {
					Status               string  `json:"status"`
					EstimatedTotalAmount float64 `json:"estimatedTotalAmount"`
				} `json:"OrderDetail"`
			} `json:"Order"`
		} `json:"OrdersResponse"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse orders: %w", err)
	}
	var out []types.OrderOutcome
	for _, o := range resp.OrdersResponse.Order {
		oc := types.OrderOutcome{OrderID: o.OrderID.String()}
		if len(o.OrderDetail) > 0 {
			oc.Status = o.OrderDetail[0].Status
			oc.EstimatedCost = decimal.NewFromFloat(o.OrderDetail[0].EstimatedTotalAmount)
		}
		out = append(out, oc)
	}
	return out, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, accountID string, orderID string) error {
	payload := []byte(fmt.Sprintf("<CancelOrderRequest><orderId>%s</orderId></CancelOrderRequest>", orderID))
	path := fmt.Sprintf("/v1/accounts/%s/orders/cancel.json", accountID)
	_, err := c.do(ctx, http.MethodPut, path, "cancel", payload)
	return err
}
