package models

import (
	"context"
	"strings"

	"github.com/mmdatafocus/invoice_maker/config"
	"github.com/shopspring/decimal"
)

// ItemMaster is the database copy of the item catalog.
type ItemMaster struct {
	Id          int             `gorm:"column:Id;primary_key" json:"id"`
	ItemName    string          `gorm:"column:ItemName;size:100;not null" json:"item_name"`
	Category    string          `gorm:"column:Category;size:50;not null" json:"category"`
	UnitPrice   decimal.Decimal `gorm:"column:UnitPrice;type:decimal(20,4);default:0" json:"unit_price"`
	SingleDay   bool            `gorm:"column:SingleDay;not null;default:false" json:"single_day"`
	Description string          `gorm:"column:Description;type:text" json:"description"`
}

func (ItemMaster) TableName() string { return "ItemMaster" }

// NewCatalogFromItemMasters skips rows whose category is unknown or blank.
func NewCatalogFromItemMasters(rows []ItemMaster) Catalog {
	logger := config.GetLogger()
	entries := make([]ItemDefaults, 0, len(rows))
	for _, row := range rows {
		category, err := ParseItemCategory(strings.TrimSpace(row.Category))
		if err != nil || category == ItemCategoryNone {
			config.LogWarning(logger, "ItemMaster", "NewCatalogFromItemMasters", "skipping item master row", row)
			continue
		}
		label := strings.TrimSpace(row.ItemName)
		if label == "" {
			label = string(category)
		}
		entries = append(entries, ItemDefaults{
			Category:  category,
			Label:     label,
			UnitPrice: row.UnitPrice,
			SingleDay: row.SingleDay,
		})
	}
	return NewCatalog(entries...)
}

func LoadItemMasterCatalog(ctx context.Context) (Catalog, error) {
	var rows []ItemMaster
	db := config.GetDB()
	if err := db.WithContext(ctx).Order("Id").Find(&rows).Error; err != nil {
		return Catalog{}, err
	}
	return NewCatalogFromItemMasters(rows), nil
}
