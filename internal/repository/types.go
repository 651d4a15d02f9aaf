package repository

import (
	"errors"
	"time"
)

// ErrIllegalTransition 订单状态迁移不合法
var ErrIllegalTransition = errors.New("illegal payment order transition")

// PaymentOrderListFilter 查询用户订单列表的过滤条件
type PaymentOrderListFilter struct {
	Page        int
	PageSize    int
	UserID      string
	Status      string
	Channel     string
	Keyword     string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}
