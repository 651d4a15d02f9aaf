package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wxorder-next/internal/config"
	"github.com/wxorder-next/internal/constants"
	"github.com/wxorder-next/internal/models"
	"github.com/wxorder-next/internal/payment/wxpay"
	"github.com/wxorder-next/internal/repository"
)

func TestCreateOrderWebReturnsCodeURL(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{
		UserID:      "u1",
		Channel:     "web",
		Amount:      1000,
		ProductID:   "P-1",
		ProductName: "VIP Monthly",
		ClientIP:    "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if result.Payload.CodeURL != testCodeURL || result.Payload.TradeType != constants.TradeTypeNative {
		t.Fatalf("unexpected payload: %+v", result.Payload)
	}
	if result.Payload.JSAPI != nil || result.Payload.App != nil {
		t.Fatalf("web payload must only carry code_url")
	}

	order := f.mustGet(t, result.Order.OrderNo)
	if order.Status != constants.PaymentOrderStatusPending {
		t.Fatalf("status should stay pending, got %s", order.Status)
	}
	if order.PrepayID != "wx_prepay_"+order.OrderNo || order.CodeURL != testCodeURL {
		t.Fatalf("prepay not persisted: %+v", order)
	}
	if len(order.OrderNo) != 32 || !strings.HasPrefix(order.OrderNo, "WX") {
		t.Fatalf("unexpected order no: %s", order.OrderNo)
	}
	payload, delay, ok := f.scheduler.last()
	if !ok || payload.OrderNo != order.OrderNo || payload.Attempt != 1 || delay != time.Minute {
		t.Fatalf("expected reconcile scheduled, got %+v %s %v", payload, delay, ok)
	}
}

func TestCreateOrderMiniappBuildsJSAPIInvoke(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{
		UserID:      "u1",
		Channel:     "miniapp",
		Amount:      990,
		ProductName: "VIP",
		OpenID:      "oUpF8uMuAJO_M2pxb1Q9zNjWeS6o",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	invoke := result.Payload.JSAPI
	if invoke == nil {
		t.Fatalf("expected jsapi payload")
	}
	if invoke.AppID != "wxmini" || invoke.Package != "prepay_id=wx_prepay_"+result.Order.OrderNo {
		t.Fatalf("unexpected jsapi invoke: %+v", invoke)
	}
	want := wxpay.Sign(map[string]string{
		"appId":     invoke.AppID,
		"timeStamp": invoke.TimeStamp,
		"nonceStr":  invoke.NonceStr,
		"package":   invoke.Package,
		"signType":  invoke.SignType,
	}, testMerchantKey)
	if invoke.PaySign != want {
		t.Fatalf("pay sign must cover the five invoke fields only")
	}
}

func TestCreateOrderMobileBuildsAppInvoke(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{
		UserID:      "u1",
		Channel:     "mobile",
		Amount:      1,
		ProductName: "VIP",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	invoke := result.Payload.App
	if invoke == nil {
		t.Fatalf("expected app payload")
	}
	if invoke.PartnerID != testMerchantID || invoke.Package != "Sign=WXPay" || invoke.PrepayID != "wx_prepay_"+result.Order.OrderNo {
		t.Fatalf("unexpected app invoke: %+v", invoke)
	}
	want := wxpay.Sign(map[string]string{
		"appid":     invoke.AppID,
		"partnerid": invoke.PartnerID,
		"prepayid":  invoke.PrepayID,
		"package":   invoke.Package,
		"noncestr":  invoke.NonceStr,
		"timestamp": invoke.TimeStamp,
	}, testMerchantKey)
	if invoke.PaySign != want {
		t.Fatalf("unexpected app pay sign")
	}
}

func TestCreateOrderValidatesInput(t *testing.T) {
	f := newServiceFixture(t)
	cases := []CreateOrderInput{
		{UserID: "u1", Channel: "desktop", Amount: 1, ProductName: "VIP"},
		{UserID: "u1", Channel: "web", Amount: 0, ProductName: "VIP"},
		{UserID: "", Channel: "web", Amount: 1, ProductName: "VIP"},
		{UserID: "u1", Channel: "web", Amount: 1, ProductName: " "},
		{UserID: "u1", Channel: "miniapp", Amount: 1, ProductName: "VIP"},
	}
	for i, input := range cases {
		if _, err := f.orders.CreateOrder(context.Background(), input); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
	var count int64
	f.db.Model(&models.PaymentOrder{}).Count(&count)
	if count != 0 {
		t.Fatalf("invalid input must not persist orders, got %d", count)
	}
}

func TestCreateOrderConfigurationErrorBeforeWrite(t *testing.T) {
	channels := testChannelsConfig()
	channels.Web.MchKey = ""
	f := newServiceFixtureWithChannels(t, channels, nil)

	_, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", Channel: "web", Amount: 1000, ProductName: "VIP",
	})
	if !errors.Is(err, ErrConfiguration) || KindOf(err) != KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	var count int64
	f.db.Model(&models.PaymentOrder{}).Count(&count)
	if count != 0 {
		t.Fatalf("configuration error must not persist orders, got %d", count)
	}
	if f.gateway.callCount("/pay/unifiedorder") != 0 {
		t.Fatalf("gateway must not be called")
	}
}

func TestCreateOrderGatewayFailureKeepsPendingRow(t *testing.T) {
	f := newServiceFixture(t)
	f.gateway.unifiedFail = true

	_, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", Channel: "web", Amount: 1000, ProductName: "VIP",
	})
	if !errors.Is(err, ErrGatewayProtocol) {
		t.Fatalf("expected gateway protocol error, got %v", err)
	}
	if DisplayMessage(err) != "余额不足" {
		t.Fatalf("expected gateway message, got %q", DisplayMessage(err))
	}
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected dispatch error carrying order no")
	}
	order := f.mustGet(t, dispatchErr.OrderNo)
	if order.Status != constants.PaymentOrderStatusPending || order.PrepayID != "" {
		t.Fatalf("order should stay pending without prepay: %+v", order)
	}
	if f.scheduler.count() != 1 {
		t.Fatalf("reconcile should still be scheduled")
	}
}

func TestCreateOrderNetworkFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.gateway.server.Close()

	_, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", Channel: "web", Amount: 1000, ProductName: "VIP",
	})
	if !errors.Is(err, ErrGatewayNetwork) || KindOf(err) != KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
	var count int64
	f.db.Model(&models.PaymentOrder{}).Where("status = ?", constants.PaymentOrderStatusPending).Count(&count)
	if count != 1 {
		t.Fatalf("pending row should remain for reconciliation, got %d", count)
	}
}

func TestQueryOrderSyncsPaidFromGateway(t *testing.T) {
	f := newServiceFixture(t)
	f.seedOrder(t, "WXQUERY0001", constants.PaymentOrderStatusPending, 1000)
	f.gateway.setTradeState("WXQUERY0001", constants.GatewayTradeStateSuccess, 1000)

	order, err := f.orders.QueryOrder(context.Background(), "WXQUERY0001", "u1")
	if err != nil {
		t.Fatalf("query order failed: %v", err)
	}
	if order.Status != constants.PaymentOrderStatusPaid || order.TransactionID != "4200001234" {
		t.Fatalf("expected paid order, got %+v", order)
	}
	if order.NotifyCount != 1 {
		t.Fatalf("expected notify_count 1, got %d", order.NotifyCount)
	}
	if order.PaymentTime == nil || order.PaymentTime.UTC().Format(time.RFC3339) != "2024-01-01T19:04:05Z" {
		t.Fatalf("unexpected payment time: %v", order.PaymentTime)
	}

	// 已支付订单不再查询网关
	if _, err := f.orders.QueryOrder(context.Background(), "WXQUERY0001", "u1"); err != nil {
		t.Fatalf("second query failed: %v", err)
	}
	if f.gateway.callCount("/pay/orderquery") != 1 {
		t.Fatalf("paid order must not hit gateway again")
	}

	// 之后到达的通知按重复处理
	result := f.notify.Handle(context.Background(), signedNotifyBody(notifyFields("WXQUERY0001", 1000, "4200001234"), testMerchantKey))
	if !result.Succeeded() || !result.Duplicate {
		t.Fatalf("expected duplicate ack, got %+v", result)
	}
	if got := f.mustGet(t, "WXQUERY0001").NotifyCount; got != 2 {
		t.Fatalf("expected notify_count 2, got %d", got)
	}
}

func TestGetOrderByTransactionID(t *testing.T) {
	f := newServiceFixture(t)
	f.seedOrder(t, "WXQUERY0002", constants.PaymentOrderStatusPending, 1000)
	f.gateway.setTradeState("WXQUERY0002", constants.GatewayTradeStateSuccess, 1000)
	if _, err := f.orders.QueryOrder(context.Background(), "WXQUERY0002", "u1"); err != nil {
		t.Fatalf("query order failed: %v", err)
	}

	order, err := f.orders.GetOrderByTransactionID(context.Background(), "4200001234", "u1")
	if err != nil || order.OrderNo != "WXQUERY0002" {
		t.Fatalf("lookup by transaction failed: order=%+v err=%v", order, err)
	}
	if _, err := f.orders.GetOrderByTransactionID(context.Background(), "4200001234", "u2"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for foreign user, got %v", err)
	}
	if _, err := f.orders.GetOrderByTransactionID(context.Background(), " ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestQueryOrderMapsClosedStates(t *testing.T) {
	f := newServiceFixture(t)
	cases := map[string]string{
		constants.GatewayTradeStateClosed:   constants.PaymentOrderStatusCancelled,
		constants.GatewayTradeStateRevoked:  constants.PaymentOrderStatusCancelled,
		constants.GatewayTradeStatePayError: constants.PaymentOrderStatusFailed,
		constants.GatewayTradeStateNotPay:   constants.PaymentOrderStatusPending,
	}
	i := 0
	for tradeState, want := range cases {
		i++
		orderNo := "WXSTATE000" + string(rune('0'+i))
		f.seedOrder(t, orderNo, constants.PaymentOrderStatusPending, 100)
		f.gateway.setTradeState(orderNo, tradeState, 0)
		order, err := f.orders.QueryOrder(context.Background(), orderNo, "")
		if err != nil {
			t.Fatalf("%s: query failed: %v", tradeState, err)
		}
		if order.Status != want {
			t.Fatalf("%s: expected %s, got %s", tradeState, want, order.Status)
		}
		if order.TransactionID != "" || order.PaymentTime != nil {
			t.Fatalf("%s: non-paid transition must not set transaction fields", tradeState)
		}
	}
}

func TestQueryOrderAmountMismatchKeepsPending(t *testing.T) {
	f := newServiceFixture(t)
	f.seedOrder(t, "WXQUERY0002", constants.PaymentOrderStatusPending, 1000)
	f.gateway.setTradeState("WXQUERY0002", constants.GatewayTradeStateSuccess, 1)

	order, err := f.orders.QueryOrder(context.Background(), "WXQUERY0002", "")
	if err != nil {
		t.Fatalf("query should fall back to local order, got %v", err)
	}
	if order == nil || order.OrderNo != "WXQUERY0002" || order.Status != constants.PaymentOrderStatusPending {
		t.Fatalf("expected local pending order, got %+v", order)
	}
	if got := f.mustGet(t, "WXQUERY0002").Status; got != constants.PaymentOrderStatusPending {
		t.Fatalf("status should stay pending, got %s", got)
	}
}

func TestQueryOrderGatewayOrderMissingReturnsLocal(t *testing.T) {
	f := newServiceFixture(t)
	f.seedOrder(t, "WXQUERY0004", constants.PaymentOrderStatusPending, 1000)
	f.gateway.setTradeState("WXQUERY0004", wxpay.ErrCodeOrderNotExist, 0)

	order, err := f.orders.QueryOrder(context.Background(), "WXQUERY0004", "u1")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if order == nil || order.Status != constants.PaymentOrderStatusPending {
		t.Fatalf("expected pending order, got %+v", order)
	}
	if f.gateway.callCount("/pay/orderquery") != 1 {
		t.Fatalf("expected one gateway query, got %d", f.gateway.callCount("/pay/orderquery"))
	}
}

func TestQueryOrderNetworkFailureReturnsLocal(t *testing.T) {
	f := newServiceFixture(t)
	f.seedOrder(t, "WXQUERY0005", constants.PaymentOrderStatusPending, 1000)
	f.gateway.server.Close()

	order, err := f.orders.QueryOrder(context.Background(), "WXQUERY0005", "u1")
	if err != nil {
		t.Fatalf("query should fall back to local order, got %v", err)
	}
	if order == nil || order.Status != constants.PaymentOrderStatusPending {
		t.Fatalf("expected pending order, got %+v", order)
	}
}

func TestQueryOrderConfigurationErrorSurfaces(t *testing.T) {
	f := newServiceFixtureWithChannels(t, config.ChannelsConfig{}, nil)
	f.seedOrder(t, "WXQUERY0006", constants.PaymentOrderStatusPending, 1000)

	if _, err := f.orders.QueryOrder(context.Background(), "WXQUERY0006", "u1"); KindOf(err) != KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestQueryOrderThrottled(t *testing.T) {
	f := newServiceFixtureWithChannels(t, testChannelsConfig(), stubThrottle{allow: false})
	f.seedOrder(t, "WXQUERY0003", constants.PaymentOrderStatusPending, 1000)
	f.gateway.setTradeState("WXQUERY0003", constants.GatewayTradeStateSuccess, 1000)

	order, err := f.orders.QueryOrder(context.Background(), "WXQUERY0003", "")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if order.Status != constants.PaymentOrderStatusPending || f.gateway.callCount("/pay/orderquery") != 0 {
		t.Fatalf("throttled query must not reach gateway")
	}
}

func TestQueryOrderNotFoundAndOwnership(t *testing.T) {
	f := newServiceFixture(t)
	if _, err := f.orders.QueryOrder(context.Background(), "missing", ""); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	f.seedOrder(t, "WXOWNER0001", constants.PaymentOrderStatusPaid, 100)
	if _, err := f.orders.QueryOrder(context.Background(), "WXOWNER0001", "someone-else"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("foreign order should look missing, got %v", err)
	}
}

func TestRefundPendingOrderRejectedWithoutGatewayCall(t *testing.T) {
	f := newServiceFixture(t)
	f.seedOrder(t, "WXREFUND001", constants.PaymentOrderStatusPending, 1000)

	_, err := f.orders.Refund(context.Background(), RefundInput{OrderNo: "WXREFUND001", Amount: 100})
	if !errors.Is(err, ErrOrderNotPayable) || KindOf(err) != KindOrderNotPayable {
		t.Fatalf("expected order not payable, got %v", err)
	}
	if f.client.refunds != 0 {
		t.Fatalf("refund must not reach gateway client")
	}
}

func TestRefundBoundsAndTransition(t *testing.T) {
	f := newServiceFixture(t)
	f.seedOrder(t, "WXREFUND002", constants.PaymentOrderStatusPaid, 1000)

	if _, err := f.orders.Refund(context.Background(), RefundInput{OrderNo: "WXREFUND002", Amount: 1001}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for excessive refund, got %v", err)
	}
	if _, err := f.orders.Refund(context.Background(), RefundInput{OrderNo: "WXREFUND002", Amount: -1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for negative refund, got %v", err)
	}

	order, err := f.orders.Refund(context.Background(), RefundInput{OrderNo: "WXREFUND002", Amount: 400, Reason: "user request"})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if order.Status != constants.PaymentOrderStatusRefunded || order.RefundAmount != 400 || order.RefundedAt == nil {
		t.Fatalf("unexpected refunded order: %+v", order)
	}
	if !strings.HasPrefix(order.RefundNo, "RF") || len(order.RefundNo) != 32 {
		t.Fatalf("unexpected refund no: %s", order.RefundNo)
	}

	if _, err := f.orders.Refund(context.Background(), RefundInput{OrderNo: "WXREFUND002"}); !errors.Is(err, ErrOrderNotPayable) {
		t.Fatalf("second refund must be rejected, got %v", err)
	}
}

func TestRefundFullAmountByDefault(t *testing.T) {
	f := newServiceFixture(t)
	f.seedOrder(t, "WXREFUND003", constants.PaymentOrderStatusPaid, 750)

	order, err := f.orders.Refund(context.Background(), RefundInput{OrderNo: "WXREFUND003"})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if order.RefundAmount != 750 {
		t.Fatalf("expected full refund, got %d", order.RefundAmount)
	}
}

func TestReconcileOrderReschedulesUntilMaxAttempts(t *testing.T) {
	f := newServiceFixture(t)
	f.seedOrder(t, "WXRECON0001", constants.PaymentOrderStatusPending, 100)

	if err := f.orders.ReconcileOrder(context.Background(), "WXRECON0001", 1); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	payload, delay, ok := f.scheduler.last()
	if !ok || payload.Attempt != 2 || delay != 2*time.Minute {
		t.Fatalf("expected attempt 2 scheduled with backoff, got %+v %s", payload, delay)
	}

	before := f.scheduler.count()
	if err := f.orders.ReconcileOrder(context.Background(), "WXRECON0001", 3); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if f.scheduler.count() != before {
		t.Fatalf("max attempt must not schedule again")
	}
	if got := f.mustGet(t, "WXRECON0001").ReconcileCount; got != 2 {
		t.Fatalf("expected reconcile_count 2, got %d", got)
	}

	f.gateway.setTradeState("WXRECON0001", constants.GatewayTradeStateSuccess, 100)
	before = f.scheduler.count()
	if err := f.orders.ReconcileOrder(context.Background(), "WXRECON0001", 1); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if f.mustGet(t, "WXRECON0001").Status != constants.PaymentOrderStatusPaid || f.scheduler.count() != before {
		t.Fatalf("settled order must not be rescheduled")
	}
}

func TestReconcileOrderGatewayOrderMissingStaysPending(t *testing.T) {
	f := newServiceFixture(t)
	f.seedOrder(t, "WXRECON0002", constants.PaymentOrderStatusPending, 100)
	f.gateway.setTradeState("WXRECON0002", wxpay.ErrCodeOrderNotExist, 0)

	if err := f.orders.ReconcileOrder(context.Background(), "WXRECON0002", 1); err != nil {
		t.Fatalf("order missing at gateway should not fail reconcile: %v", err)
	}
	payload, _, ok := f.scheduler.last()
	if !ok || payload.OrderNo != "WXRECON0002" || payload.Attempt != 2 {
		t.Fatalf("expected reschedule with attempt 2, got %+v", payload)
	}
	if got := f.mustGet(t, "WXRECON0002").Status; got != constants.PaymentOrderStatusPending {
		t.Fatalf("status should stay pending, got %s", got)
	}
}

func TestSweepStalePending(t *testing.T) {
	f := newServiceFixture(t)
	stale := f.seedOrder(t, "WXSWEEP0001", constants.PaymentOrderStatusPending, 100)
	f.db.Model(stale).Update("created_at", time.Now().Add(-time.Hour))
	f.seedOrder(t, "WXSWEEP0002", constants.PaymentOrderStatusPending, 100)
	f.gateway.setTradeState("WXSWEEP0001", constants.GatewayTradeStateClosed, 0)
	f.gateway.setTradeState("WXSWEEP0002", constants.GatewayTradeStateClosed, 0)

	processed, err := f.orders.SweepStalePending(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed, got %d", processed)
	}
	if f.mustGet(t, "WXSWEEP0001").Status != constants.PaymentOrderStatusCancelled {
		t.Fatalf("stale order should be cancelled")
	}
	if f.mustGet(t, "WXSWEEP0002").Status != constants.PaymentOrderStatusPending {
		t.Fatalf("fresh order should stay pending")
	}
}

func TestListByUser(t *testing.T) {
	f := newServiceFixture(t)
	f.seedOrder(t, "WXLIST00001", constants.PaymentOrderStatusPending, 100)
	f.seedOrder(t, "WXLIST00002", constants.PaymentOrderStatusPaid, 100)

	orders, total, err := f.orders.ListByUser(context.Background(), repository.PaymentOrderListFilter{UserID: "u1"})
	if err != nil || total != 2 || len(orders) != 2 {
		t.Fatalf("unexpected list: total=%d err=%v", total, err)
	}
	if _, _, err := f.orders.ListByUser(context.Background(), repository.PaymentOrderListFilter{UserID: "u1", Status: "weird"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid status error, got %v", err)
	}
	if _, _, err := f.orders.ListByUser(context.Background(), repository.PaymentOrderListFilter{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected user required error, got %v", err)
	}
}

func TestConfigCredentialProvider(t *testing.T) {
	provider := NewConfigCredentialProvider(testChannelsConfig())
	creds, err := provider.GetCredentials("miniapp")
	if err != nil || creds.AppID != "wxmini" {
		t.Fatalf("unexpected credentials: %+v err=%v", creds, err)
	}
	creds.AppID = "mutated"
	again, _ := provider.GetCredentials("miniapp")
	if again.AppID != "wxmini" {
		t.Fatalf("provider must hand out copies")
	}
	if _, err := provider.GetCredentials("desktop"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	found, err := provider.FindByMerchant("wxapp", testMerchantID)
	if err != nil || found.AppID != "wxapp" {
		t.Fatalf("unexpected merchant lookup: %+v err=%v", found, err)
	}
	if _, err := provider.FindByMerchant("wxweb", "other"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	empty := NewConfigCredentialProvider(config.ChannelsConfig{})
	if _, err := empty.GetCredentials("web"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error for empty config, got %v", err)
	}
}
