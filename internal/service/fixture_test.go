package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/wxorder-next/internal/config"
	"github.com/wxorder-next/internal/constants"
	"github.com/wxorder-next/internal/models"
	"github.com/wxorder-next/internal/payment/wxpay"
	"github.com/wxorder-next/internal/queue"
	"github.com/wxorder-next/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	testMerchantID  = "1900000109"
	testMerchantKey = "192006250b4c09247ec02edce69f6a2d"
	testCodeURL     = "weixin://wxpay/bizpayurl?pr=abc"
)

func testChannelsConfig() config.ChannelsConfig {
	return config.ChannelsConfig{
		Web:     config.ChannelCredentialConfig{AppID: "wxweb", MchID: testMerchantID, MchKey: testMerchantKey, NotifyURL: "https://example.com/api/v1/payments/wxpay/notify"},
		Miniapp: config.ChannelCredentialConfig{AppID: "wxmini", MchID: testMerchantID, MchKey: testMerchantKey, NotifyURL: "https://example.com/api/v1/payments/wxpay/notify"},
		Mobile:  config.ChannelCredentialConfig{AppID: "wxapp", MchID: testMerchantID, MchKey: testMerchantKey, NotifyURL: "https://example.com/api/v1/payments/wxpay/notify"},
	}
}

// fakeGateway 模拟网关的统一下单与查单接口
type fakeGateway struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	tradeStates map[string]string
	totalFees   map[string]int64
	unifiedFail bool
	calls       map[string]int
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		t:           t,
		tradeStates: make(map[string]string),
		totalFees:   make(map[string]int64),
		calls:       make(map[string]int),
	}
	g.server = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) setTradeState(orderNo, state string, totalFee int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tradeStates[orderNo] = state
	g.totalFees[orderNo] = totalFee
}

func (g *fakeGateway) callCount(path string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[path]
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	req, err := wxpay.DecodeXML(body)
	if err != nil {
		g.t.Errorf("decode gateway request failed: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !wxpay.Verify(req, req["sign"], testMerchantKey) {
		g.t.Errorf("gateway request signature invalid: %+v", req)
	}

	g.mu.Lock()
	g.calls[r.URL.Path]++
	unifiedFail := g.unifiedFail
	state := g.tradeStates[req["out_trade_no"]]
	totalFee := g.totalFees[req["out_trade_no"]]
	g.mu.Unlock()

	resp := map[string]string{
		"return_code": "SUCCESS",
		"return_msg":  "OK",
		"appid":       req["appid"],
		"mch_id":      req["mch_id"],
		"nonce_str":   "gatewaynonce",
	}
	switch r.URL.Path {
	case "/pay/unifiedorder":
		if unifiedFail {
			resp["result_code"] = "FAIL"
			resp["err_code"] = "NOTENOUGH"
			resp["err_code_des"] = "余额不足"
			break
		}
		resp["result_code"] = "SUCCESS"
		resp["trade_type"] = req["trade_type"]
		resp["prepay_id"] = "wx_prepay_" + req["out_trade_no"]
		if req["trade_type"] == constants.TradeTypeNative {
			resp["code_url"] = testCodeURL
		}
	case "/pay/orderquery":
		if state == wxpay.ErrCodeOrderNotExist {
			resp["result_code"] = "FAIL"
			resp["err_code"] = wxpay.ErrCodeOrderNotExist
			resp["err_code_des"] = "此交易订单号不存在"
			break
		}
		if state == "" {
			state = constants.GatewayTradeStateNotPay
		}
		resp["result_code"] = "SUCCESS"
		resp["trade_state"] = state
		resp["out_trade_no"] = req["out_trade_no"]
		if state == constants.GatewayTradeStateSuccess || state == constants.GatewayTradeStateRefund {
			resp["transaction_id"] = "4200001234"
			resp["time_end"] = "20240102030405"
			if totalFee > 0 {
				resp["total_fee"] = strconv.FormatInt(totalFee, 10)
			}
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	resp["sign"] = wxpay.Sign(resp, testMerchantKey)
	_, _ = w.Write(wxpay.EncodeXML(resp))
}

// countingClient 统计退款调用次数
type countingClient struct {
	*wxpay.Client
	mu      sync.Mutex
	refunds int
}

func (c *countingClient) Refund(ctx context.Context, creds *wxpay.Credentials, req wxpay.RefundRequest) (*wxpay.RefundResult, error) {
	c.mu.Lock()
	c.refunds++
	c.mu.Unlock()
	return c.Client.Refund(ctx, creds, req)
}

type recordingScheduler struct {
	mu       sync.Mutex
	payloads []queue.PaymentOrderReconcilePayload
	delays   []time.Duration
}

func (s *recordingScheduler) EnqueuePaymentOrderReconcile(payload queue.PaymentOrderReconcilePayload, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	s.delays = append(s.delays, delay)
	return nil
}

func (s *recordingScheduler) last() (queue.PaymentOrderReconcilePayload, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.payloads) == 0 {
		return queue.PaymentOrderReconcilePayload{}, 0, false
	}
	return s.payloads[len(s.payloads)-1], s.delays[len(s.delays)-1], true
}

func (s *recordingScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

type stubThrottle struct {
	allow bool
}

func (s stubThrottle) Allow(context.Context, string) (bool, error) {
	return s.allow, nil
}

type serviceFixture struct {
	db        *gorm.DB
	repo      *repository.GormPaymentOrderRepository
	gateway   *fakeGateway
	client    *countingClient
	scheduler *recordingScheduler
	orders    *PaymentOrderService
	notify    *NotifyService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	return newServiceFixtureWithChannels(t, testChannelsConfig(), nil)
}

func newServiceFixtureWithChannels(t *testing.T, channels config.ChannelsConfig, throttle QueryThrottle) *serviceFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.Migrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	repo := repository.NewPaymentOrderRepository(db)
	gateway := newFakeGateway(t)
	client := &countingClient{Client: wxpay.NewClient(wxpay.ClientOptions{BaseURL: gateway.server.URL, Timeout: 2 * time.Second})}
	scheduler := &recordingScheduler{}
	provider := NewConfigCredentialProvider(channels)
	orders := NewPaymentOrderService(repo, provider, client, scheduler, throttle, PaymentOrderOptions{
		ReconcileDelay:       time.Minute,
		ReconcileMaxAttempts: 3,
		StalePendingAfter:    10 * time.Minute,
	})
	return &serviceFixture{
		db:        db,
		repo:      repo,
		gateway:   gateway,
		client:    client,
		scheduler: scheduler,
		orders:    orders,
		notify:    NewNotifyService(repo, provider),
	}
}

func (f *serviceFixture) seedOrder(t *testing.T, orderNo, status string, amount int64) *models.PaymentOrder {
	t.Helper()
	order := &models.PaymentOrder{
		OrderNo:     orderNo,
		UserID:      "u1",
		Channel:     constants.PaymentChannelWeb,
		TradeType:   constants.TradeTypeNative,
		Amount:      amount,
		Currency:    constants.DefaultCurrency,
		ProductName: "VIP",
		Status:      status,
	}
	if err := f.repo.Create(order); err != nil {
		t.Fatalf("seed order failed: %v", err)
	}
	return order
}

func (f *serviceFixture) mustGet(t *testing.T, orderNo string) *models.PaymentOrder {
	t.Helper()
	order, err := f.repo.GetByOrderNo(orderNo)
	if err != nil || order == nil {
		t.Fatalf("get order %s failed: %v", orderNo, err)
	}
	return order
}

func notifyFields(orderNo string, totalFee int64, transactionID string) map[string]string {
	return map[string]string{
		"return_code":    "SUCCESS",
		"result_code":    "SUCCESS",
		"appid":          "wxweb",
		"mch_id":         testMerchantID,
		"nonce_str":      "notifynonce",
		"out_trade_no":   orderNo,
		"transaction_id": transactionID,
		"total_fee":      strconv.FormatInt(totalFee, 10),
		"cash_fee":       strconv.FormatInt(totalFee, 10),
		"fee_type":       "CNY",
		"trade_type":     "NATIVE",
		"openid":         "oUpF8uMuAJO_M2pxb1Q9zNjWeS6o",
		"bank_type":      "CMC",
		"time_end":       "20240102030405",
	}
}

func signedNotifyBody(fields map[string]string, key string) []byte {
	fields["sign"] = wxpay.Sign(fields, key)
	return wxpay.EncodeXML(fields)
}

func signedNotifyBodyWithType(fields map[string]string, key string) []byte {
	fields["sign"] = wxpay.SignWithType(fields, key, wxpay.ParseSignType(fields["sign_type"]))
	return wxpay.EncodeXML(fields)
}
