package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-khipu-checkout/internal/baskets"
	"github.com/imrishuroy/go-khipu-checkout/internal/config"
	"github.com/imrishuroy/go-khipu-checkout/internal/gateway"
	"github.com/imrishuroy/go-khipu-checkout/internal/logging"
	"github.com/imrishuroy/go-khipu-checkout/internal/responses"
)

type recorderStub struct {
	mu      sync.Mutex
	entries []responses.Entry
	err     error
}

func (r *recorderStub) Record(_ context.Context, e responses.Entry) (*responses.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.entries = append(r.entries, e)
	return &responses.Record{ProcessorName: e.ProcessorName, TransactionID: e.TransactionID}, nil
}

type ordersStub map[string]bool

func (o ordersStub) Exists(_ context.Context, orderNumber string) (bool, error) {
	return o[orderNumber], nil
}

// gatewayServer answers every request with status and body, capturing the last request.
type gatewayServer struct {
	status int
	body   string

	method string
	path   string
	form   map[string]string
}

func (g *gatewayServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		g.method = r.Method
		g.path = r.URL.Path
		g.form = map[string]string{}
		for k := range r.Form {
			g.form[k] = r.Form.Get(k)
		}
		w.WriteHeader(g.status)
		_, _ = w.Write([]byte(g.body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSite() config.Site {
	return config.Site{
		Name:              "test",
		EcommerceURL:      "https://shop.example.com",
		OrderNumberPrefix: "EDX",
		Currency:          "CLP",
		Khipu: config.Khipu{
			ReceiverID:           "1234",
			Secret:               "s3cret",
			ResponsibleUserEmail: "ops@example.com",
		},
	}
}

func newProcessor(t *testing.T, v Variant, g *gatewayServer, rec *recorderStub, orders ordersStub) *Khipu {
	t.Helper()
	srv := g.start(t)
	client := gateway.New(gateway.Config{BaseURL: srv.URL + "/api/2.0/", ReceiverID: "1234", Secret: "s3cret"})
	return NewKhipu(v, testSite(), client, rec, orders, logging.Discard())
}

func basket(id int64, total string) *baskets.Basket {
	return &baskets.Basket{
		BasketID:     id,
		OrderNumber:  baskets.OrderNumber("EDX", id),
		Currency:     "CLP",
		TotalInclTax: total,
		Status:       baskets.StatusOpen,
	}
}

func TestCreateTransaction_Created(t *testing.T) {
	g := &gatewayServer{status: http.StatusCreated, body: `{"payment_id":"pay-1","payment_url":"https://khipu.com/payment/info/pay-1"}`}
	rec := &recorderStub{}
	k := newProcessor(t, KhipuVariant{}, g, rec, ordersStub{})

	params, err := k.CreateTransaction(context.Background(), basket(7, "100.00"))
	require.NoError(t, err)
	assert.Equal(t, "pay-1", params.PaymentID)
	assert.Equal(t, "https://khipu.com/payment/info/pay-1", params.PaymentPageURL)

	assert.Equal(t, http.MethodPost, g.method)
	assert.Equal(t, "/api/2.0/payments", g.path)
	assert.Equal(t, "EDX-100007", g.form["transaction_id"])
	assert.Equal(t, "EDX-100007", g.form["subject"])
	assert.Equal(t, "100.00", g.form["amount"])
	assert.Equal(t, "CLP", g.form["currency"])
	assert.Equal(t, "1.3", g.form["notify_api_version"])
	assert.Equal(t, "https://shop.example.com/payment/khipu/execute/", g.form["notify_url"])
	assert.Equal(t, "https://shop.example.com/checkout/cancel-checkout/", g.form["cancel_url"])
	assert.Equal(t, "https://shop.example.com/checkout/receipt/?order_number=EDX-100007", g.form["return_url"])
	assert.Equal(t, "ops@example.com", g.form["responsible_user_email"])

	require.Len(t, rec.entries, 1)
	assert.Equal(t, "khipu", rec.entries[0].ProcessorName)
	assert.Equal(t, "pay-1", rec.entries[0].TransactionID)
	assert.Equal(t, int64(7), rec.entries[0].BasketID)
}

func TestCreateTransaction_WebpayNotifyPath(t *testing.T) {
	g := &gatewayServer{status: http.StatusCreated, body: `{"payment_id":"pay-9","payment_url":"u"}`}
	rec := &recorderStub{}
	k := newProcessor(t, WebpayVariant{}, g, rec, ordersStub{})

	_, err := k.CreateTransaction(context.Background(), basket(9, "10"))
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/payment/khipuwebpay/execute/", g.form["notify_url"])
	assert.Equal(t, "khipu_webpay", rec.entries[0].ProcessorName)
}

func TestCreateTransaction_Declined(t *testing.T) {
	g := &gatewayServer{status: http.StatusBadRequest, body: `{"message":"invalid amount"}`}
	rec := &recorderStub{}
	k := newProcessor(t, KhipuVariant{}, g, rec, ordersStub{})

	_, err := k.CreateTransaction(context.Background(), basket(7, "100.00"))
	require.ErrorIs(t, err, ErrDeclinedTransaction)

	require.Len(t, rec.entries, 1)
	assert.Empty(t, rec.entries[0].TransactionID)
	assert.Equal(t, int64(7), rec.entries[0].BasketID)
	assert.Equal(t, `{"message":"invalid amount"}`, rec.entries[0].Response)
}

func TestCreateTransaction_RecordFailureIsFatal(t *testing.T) {
	g := &gatewayServer{status: http.StatusCreated, body: `{"payment_id":"pay-1","payment_url":"u"}`}
	rec := &recorderStub{err: errors.New("throttled")}
	k := newProcessor(t, KhipuVariant{}, g, rec, ordersStub{})

	_, err := k.CreateTransaction(context.Background(), basket(7, "100.00"))
	require.Error(t, err)
}

func TestParseNotification_WrongVersion(t *testing.T) {
	g := &gatewayServer{status: http.StatusOK, body: `{}`}
	rec := &recorderStub{}
	k := newProcessor(t, KhipuVariant{}, g, rec, ordersStub{})

	_, err := k.ParseNotification(context.Background(), Notification{APIVersion: "1.2", NotificationToken: "tok"})
	require.ErrorIs(t, err, ErrInvalidProtocolVersion)
	assert.Empty(t, g.method, "no gateway call expected")

	require.Len(t, rec.entries, 1)
	assert.Empty(t, rec.entries[0].TransactionID)
	assert.Zero(t, rec.entries[0].BasketID)
	assert.Contains(t, rec.entries[0].Response, "api_version=1.2")
}

func TestParseNotification_Fetches(t *testing.T) {
	g := &gatewayServer{status: http.StatusOK, body: `{"payment_id":"pay-1","transaction_id":"EDX-100007","status":"done","amount":"100.00","currency":"CLP"}`}
	k := newProcessor(t, KhipuVariant{}, g, &recorderStub{}, ordersStub{})

	d, err := k.ParseNotification(context.Background(), Notification{APIVersion: "1.3", NotificationToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, g.method)
	assert.Equal(t, "tok", g.form["notification_token"])
	assert.Equal(t, "pay-1", d.PaymentID)
	assert.Equal(t, "done", d.Status)
	assert.Equal(t, "100", d.Amount.String())
	assert.Equal(t, g.body, d.Raw)
}

func TestParseNotification_NumericAmount(t *testing.T) {
	g := &gatewayServer{status: http.StatusOK, body: `{"payment_id":"pay-1","status":"done","amount":99.99}`}
	k := newProcessor(t, KhipuVariant{}, g, &recorderStub{}, ordersStub{})

	d, err := k.ParseNotification(context.Background(), Notification{APIVersion: "1.3", NotificationToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "99.99", d.Amount.String())
}

func TestParseNotification_TokenRejected(t *testing.T) {
	g := &gatewayServer{status: http.StatusForbidden, body: `{"message":"forbidden"}`}
	rec := &recorderStub{}
	k := newProcessor(t, KhipuVariant{}, g, rec, ordersStub{})

	_, err := k.ParseNotification(context.Background(), Notification{APIVersion: "1.3", NotificationToken: "bad"})
	require.ErrorIs(t, err, ErrLookupFailure)
	require.Len(t, rec.entries, 1)
	assert.Equal(t, `{"message":"forbidden"}`, rec.entries[0].Response)
}

func TestLookup(t *testing.T) {
	g := &gatewayServer{status: http.StatusOK, body: `{"payment_id":"pay-3","status":"pending","amount":"5"}`}
	k := newProcessor(t, KhipuVariant{}, g, &recorderStub{}, ordersStub{})

	d, err := k.Lookup(context.Background(), "pay-3")
	require.NoError(t, err)
	assert.Equal(t, "/api/2.0/payments/pay-3", g.path)
	assert.Equal(t, "pending", d.Status)

	g.status = http.StatusNotFound
	_, err = k.Lookup(context.Background(), "pay-4")
	require.ErrorIs(t, err, ErrLookupFailure)
}

func detail(status, amount string) *TransactionDetail {
	d, _ := decodeDetail([]byte(`{"payment_id":"pay-1","status":"` + status + `","amount":"` + amount + `","currency":"CLP"}`))
	return d
}

func TestReconcile(t *testing.T) {
	b := basket(7, "100.00")

	tests := []struct {
		name       string
		variant    Variant
		detail     *TransactionDetail
		orders     ordersStub
		wantErr    []error
		wantResult Outcome
		wantMarker string
	}{
		{
			name:       "done and equal amount",
			variant:    KhipuVariant{},
			detail:     detail("done", "100"),
			orders:     ordersStub{},
			wantResult: OutcomeConfirmed,
			wantMarker: "Khipu_7",
		},
		{
			name:       "webpay marker",
			variant:    WebpayVariant{},
			detail:     detail("done", "100.00"),
			orders:     ordersStub{},
			wantResult: OutcomeConfirmed,
			wantMarker: "KhipuWebpay_7",
		},
		{
			name:    "amount mismatch",
			variant: KhipuVariant{},
			detail:  detail("done", "99.99"),
			orders:  ordersStub{},
			wantErr: []error{ErrGatewayNotReady, ErrAmountMismatch},
		},
		{
			name:    "pending",
			variant: KhipuVariant{},
			detail:  detail("pending", "100.00"),
			orders:  ordersStub{},
			wantErr: []error{ErrGatewayNotReady},
		},
		{
			name:       "order exists",
			variant:    KhipuVariant{},
			detail:     detail("done", "100.00"),
			orders:     ordersStub{"EDX-100007": true},
			wantResult: OutcomeAlreadyProcessed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorderStub{}
			k := NewKhipu(tt.variant, testSite(), nil, rec, tt.orders, logging.Discard())

			res, err := k.Reconcile(context.Background(), tt.detail, b)

			require.Len(t, rec.entries, 1, "detail is always recorded")
			assert.Equal(t, int64(7), rec.entries[0].BasketID)

			if len(tt.wantErr) > 0 {
				for _, want := range tt.wantErr {
					require.ErrorIs(t, err, want)
				}
				if len(tt.wantErr) == 1 {
					assert.NotErrorIs(t, err, ErrAmountMismatch)
				}
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantResult, res.Outcome)
			if tt.wantResult == OutcomeConfirmed {
				require.NotNil(t, res.Confirmation)
				assert.Equal(t, "pay-1", res.Confirmation.TransactionID)
				assert.Equal(t, tt.wantMarker, res.Confirmation.MethodMarker)
				assert.Equal(t, "CLP", res.Confirmation.Currency)
				assert.True(t, res.Confirmation.Amount.Equal(tt.detail.Amount))
			} else {
				assert.Nil(t, res.Confirmation)
			}
		})
	}
}
