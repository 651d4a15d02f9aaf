package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wxorder-next/internal/constants"
	"github.com/wxorder-next/internal/models"

	"gorm.io/gorm"
)

// PaymentOrderRepository 支付订单数据访问接口。
// 状态变更只允许通过 ConditionalUpdateStatus 完成。
type PaymentOrderRepository interface {
	WithContext(ctx context.Context) PaymentOrderRepository
	Create(order *models.PaymentOrder) error
	ConditionalUpdateStatus(orderNo, expectedStatus string, fields map[string]interface{}) (bool, error)
	IncrementNotifyCount(orderNo string, statuses []string) (bool, error)
	IncrementReconcileCount(orderNo string) error
	GetByOrderNo(orderNo string) (*models.PaymentOrder, error)
	GetByTransactionID(transactionID string) (*models.PaymentOrder, error)
	ListByUser(filter PaymentOrderListFilter) ([]models.PaymentOrder, int64, error)
	ListStalePending(before time.Time, limit int) ([]models.PaymentOrder, error)
}

// GormPaymentOrderRepository GORM 实现
type GormPaymentOrderRepository struct {
	db *gorm.DB
}

// NewPaymentOrderRepository 创建支付订单仓库
func NewPaymentOrderRepository(db *gorm.DB) *GormPaymentOrderRepository {
	return &GormPaymentOrderRepository{db: db}
}

// WithContext 绑定请求上下文，取消或超时会中断查询
func (r *GormPaymentOrderRepository) WithContext(ctx context.Context) PaymentOrderRepository {
	if ctx == nil {
		return r
	}
	return &GormPaymentOrderRepository{db: r.db.WithContext(ctx)}
}

// Create 写入新订单
func (r *GormPaymentOrderRepository) Create(order *models.PaymentOrder) error {
	return r.db.Create(order).Error
}

// ConditionalUpdateStatus 仅当订单当前状态等于 expectedStatus 时写入 fields。
// 返回 true 表示本次更新命中（并发下只有一个写入方成功）。
func (r *GormPaymentOrderRepository) ConditionalUpdateStatus(orderNo, expectedStatus string, fields map[string]interface{}) (bool, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" || expectedStatus == "" || len(fields) == 0 {
		return false, nil
	}
	if next, ok := fields["status"].(string); ok && !constants.CanTransitPaymentOrder(expectedStatus, next) {
		return false, ErrIllegalTransition
	}
	result := r.db.Model(&models.PaymentOrder{}).
		Where("order_no = ? AND status = ?", orderNo, expectedStatus).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// IncrementNotifyCount 原子累加通知次数，仅对处于 statuses 中的订单生效
func (r *GormPaymentOrderRepository) IncrementNotifyCount(orderNo string, statuses []string) (bool, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" || len(statuses) == 0 {
		return false, nil
	}
	result := r.db.Model(&models.PaymentOrder{}).
		Where("order_no = ? AND status IN ?", orderNo, statuses).
		Update("notify_count", gorm.Expr("notify_count + ?", 1))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// IncrementReconcileCount 累加主动查单次数
func (r *GormPaymentOrderRepository) IncrementReconcileCount(orderNo string) error {
	return r.db.Model(&models.PaymentOrder{}).
		Where("order_no = ?", strings.TrimSpace(orderNo)).
		Update("reconcile_count", gorm.Expr("reconcile_count + ?", 1)).Error
}

// GetByOrderNo 根据商户订单号获取订单
func (r *GormPaymentOrderRepository) GetByOrderNo(orderNo string) (*models.PaymentOrder, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, nil
	}
	var order models.PaymentOrder
	if err := r.db.Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetByTransactionID 根据网关交易号获取订单
func (r *GormPaymentOrderRepository) GetByTransactionID(transactionID string) (*models.PaymentOrder, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, nil
	}
	var order models.PaymentOrder
	result := r.db.Where("transaction_id = ?", transactionID).Order("id desc").Limit(1).Find(&order)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &order, nil
}

// ListByUser 用户订单列表
func (r *GormPaymentOrderRepository) ListByUser(filter PaymentOrderListFilter) ([]models.PaymentOrder, int64, error) {
	query := r.db.Model(&models.PaymentOrder{}).Where("user_id = ?", filter.UserID)

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Channel != "" {
		query = query.Where("channel = ?", filter.Channel)
	}
	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		condition, args := paymentOrderKeywordSearch.forDialect(r.db).clause(keyword)
		query = query.Where(condition, args...)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = paginate(query, filter.Page, filter.PageSize)

	var orders []models.PaymentOrder
	if err := query.Order("id desc").Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListStalePending 获取创建时间早于 before 仍待支付的订单，用于补偿查单
func (r *GormPaymentOrderRepository) ListStalePending(before time.Time, limit int) ([]models.PaymentOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	var orders []models.PaymentOrder
	if err := r.db.Where("status = ? AND created_at <= ?", constants.PaymentOrderStatusPending, before).
		Order("id asc").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
