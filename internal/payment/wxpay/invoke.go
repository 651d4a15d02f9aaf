package wxpay

import (
	"strconv"
	"strings"
	"time"
)

const appPackage = "Sign=WXPay"

// JSAPIInvoke 小程序 / 公众号拉起支付参数
type JSAPIInvoke struct {
	AppID     string `json:"appId"`
	TimeStamp string `json:"timeStamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// AppInvoke 移动端 SDK 拉起支付参数
type AppInvoke struct {
	AppID     string `json:"appId"`
	PartnerID string `json:"partnerId"`
	PrepayID  string `json:"prepayId"`
	Package   string `json:"package"`
	NonceStr  string `json:"nonceStr"`
	TimeStamp string `json:"timeStamp"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// BuildJSAPIInvoke 生成 JSAPI 拉起参数。
// 签名只覆盖 appId/timeStamp/nonceStr/package/signType 五个字段。
func BuildJSAPIInvoke(creds *Credentials, prepayID string, now time.Time, nonce string) (*JSAPIInvoke, error) {
	if err := validateInvokeInput(creds, prepayID, nonce); err != nil {
		return nil, err
	}
	invoke := &JSAPIInvoke{
		AppID:     creds.AppID,
		TimeStamp: strconv.FormatInt(now.Unix(), 10),
		NonceStr:  nonce,
		Package:   "prepay_id=" + prepayID,
		SignType:  string(SignTypeMD5),
	}
	invoke.PaySign = Sign(map[string]string{
		"appId":     invoke.AppID,
		"timeStamp": invoke.TimeStamp,
		"nonceStr":  invoke.NonceStr,
		"package":   invoke.Package,
		"signType":  invoke.SignType,
	}, creds.MerchantKey)
	return invoke, nil
}

// BuildAppInvoke 生成 APP 拉起参数。
// 签名按 SDK 约定的小写字段名覆盖 appid/partnerid/prepayid/package/noncestr/timestamp，signType 不参与签名。
func BuildAppInvoke(creds *Credentials, prepayID string, now time.Time, nonce string) (*AppInvoke, error) {
	if err := validateInvokeInput(creds, prepayID, nonce); err != nil {
		return nil, err
	}
	invoke := &AppInvoke{
		AppID:     creds.AppID,
		PartnerID: creds.MerchantID,
		PrepayID:  prepayID,
		Package:   appPackage,
		NonceStr:  nonce,
		TimeStamp: strconv.FormatInt(now.Unix(), 10),
		SignType:  string(SignTypeMD5),
	}
	invoke.PaySign = Sign(map[string]string{
		"appid":     invoke.AppID,
		"partnerid": invoke.PartnerID,
		"prepayid":  invoke.PrepayID,
		"package":   invoke.Package,
		"noncestr":  invoke.NonceStr,
		"timestamp": invoke.TimeStamp,
	}, creds.MerchantKey)
	return invoke, nil
}

func validateInvokeInput(creds *Credentials, prepayID, nonce string) error {
	if creds == nil || strings.TrimSpace(creds.AppID) == "" || strings.TrimSpace(creds.MerchantKey) == "" {
		return ErrConfigInvalid
	}
	if strings.TrimSpace(prepayID) == "" || strings.TrimSpace(nonce) == "" {
		return ErrRequestInvalid
	}
	return nil
}
