package repository

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

const maxListPageSize = 100

// keywordSearch 订单关键字检索：普通列与通知报文中的 JSON 字段
type keywordSearch struct {
	postgres   bool
	columns    []string
	jsonColumn string
	jsonKeys   []string
}

var paymentOrderKeywordSearch = keywordSearch{
	columns:    []string{"order_no", "product_name", "transaction_id"},
	jsonColumn: "callback_data",
	jsonKeys:   []string{"attach", "openid"},
}

// forDialect 按连接方言返回副本，未知方言按 sqlite 处理
func (k keywordSearch) forDialect(db *gorm.DB) keywordSearch {
	k.postgres = false
	if db != nil && db.Dialector != nil {
		switch strings.ToLower(db.Dialector.Name()) {
		case "postgres", "postgresql":
			k.postgres = true
		}
	}
	return k
}

func (k keywordSearch) jsonField(key string) string {
	if k.postgres {
		return fmt.Sprintf("(%s::jsonb ->> '%s')", k.jsonColumn, key)
	}
	return fmt.Sprintf("json_extract(%s, '$.\"%s\"')", k.jsonColumn, key)
}

// clause 返回形如 (a LIKE ? OR b LIKE ?) 的条件及参数
func (k keywordSearch) clause(keyword string) (string, []interface{}) {
	operator := "LIKE"
	if k.postgres {
		operator = "ILIKE"
	}
	targets := append([]string(nil), k.columns...)
	if k.jsonColumn != "" {
		for _, key := range k.jsonKeys {
			targets = append(targets, k.jsonField(key))
		}
	}

	parts := make([]string, 0, len(targets))
	args := make([]interface{}, 0, len(targets))
	like := "%" + keyword + "%"
	for _, target := range targets {
		parts = append(parts, target+" "+operator+" ?")
		args = append(args, like)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// paginate 页码从 1 开始；pageSize<=0 时不分页
func paginate(query *gorm.DB, page, pageSize int) *gorm.DB {
	if query == nil || pageSize <= 0 {
		return query
	}
	if pageSize > maxListPageSize {
		pageSize = maxListPageSize
	}
	if page < 1 {
		page = 1
	}
	return query.Limit(pageSize).Offset((page - 1) * pageSize)
}
