package service

import (
	"fmt"
	"strings"

	"github.com/wxorder-next/internal/config"
	"github.com/wxorder-next/internal/constants"
	"github.com/wxorder-next/internal/payment/wxpay"
)

// CredentialProvider 按渠道提供商户凭证
type CredentialProvider interface {
	GetCredentials(channel string) (*wxpay.Credentials, error)
	FindByMerchant(appID, mchID string) (*wxpay.Credentials, error)
}

// ConfigCredentialProvider 基于启动配置的凭证提供者，构造后只读
type ConfigCredentialProvider struct {
	channels map[string]wxpay.Credentials
	order    []string
}

// NewConfigCredentialProvider 从配置构造凭证提供者
func NewConfigCredentialProvider(cfg config.ChannelsConfig) *ConfigCredentialProvider {
	p := &ConfigCredentialProvider{channels: make(map[string]wxpay.Credentials, 3)}
	p.add(constants.PaymentChannelWeb, cfg.Web)
	p.add(constants.PaymentChannelMiniapp, cfg.Miniapp)
	p.add(constants.PaymentChannelMobile, cfg.Mobile)
	return p
}

func (p *ConfigCredentialProvider) add(channel string, item config.ChannelCredentialConfig) {
	p.channels[channel] = wxpay.Credentials{
		AppID:       strings.TrimSpace(item.AppID),
		MerchantID:  strings.TrimSpace(item.MchID),
		MerchantKey: strings.TrimSpace(item.MchKey),
		NotifyURL:   strings.TrimSpace(item.NotifyURL),
	}
	p.order = append(p.order, channel)
}

// GetCredentials 获取渠道凭证副本；缺失或不完整时返回 ErrConfiguration
func (p *ConfigCredentialProvider) GetCredentials(channel string) (*wxpay.Credentials, error) {
	creds, ok := p.channels[strings.TrimSpace(channel)]
	if !ok {
		return nil, fmt.Errorf("%w: channel %q is not supported", ErrConfiguration, channel)
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: channel %s: %w", ErrConfiguration, channel, err)
	}
	return &creds, nil
}

// FindByMerchant 按通知中的 appid / mch_id 匹配凭证，appid 为空时仅按商户号匹配
func (p *ConfigCredentialProvider) FindByMerchant(appID, mchID string) (*wxpay.Credentials, error) {
	appID = strings.TrimSpace(appID)
	mchID = strings.TrimSpace(mchID)
	if mchID == "" {
		return nil, fmt.Errorf("%w: mch_id is empty", ErrConfiguration)
	}
	for _, channel := range p.order {
		creds := p.channels[channel]
		if creds.MerchantID != mchID {
			continue
		}
		if appID != "" && creds.AppID != appID {
			continue
		}
		if err := creds.Validate(); err != nil {
			continue
		}
		return &creds, nil
	}
	return nil, fmt.Errorf("%w: merchant %s/%s is not configured", ErrConfiguration, appID, mchID)
}
