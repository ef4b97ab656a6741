package mail

import (
	"slices"
	"strings"
)

// Category is the kind of mail a scan looks for.
type Category string

const (
	CategoryBills      Category = "bills"
	CategoryInvoice    Category = "invoice"
	CategoryReceipts   Category = "receipts"
	CategoryOrders     Category = "orders"
	CategoryPromotions Category = "promotions"
	CategoryDiscounts  Category = "discounts"
	CategoryShipping   Category = "shipping"
	CategoryBanking    Category = "banking"
	CategorySocial     Category = "social"
	CategoryUpdates    Category = "updates"
	CategoryForums     Category = "forums"
	CategoryGeneral    Category = "general"
)

// Categories lists every scan category.
var Categories = []Category{
	CategoryBills, CategoryInvoice, CategoryReceipts, CategoryOrders,
	CategoryPromotions, CategoryDiscounts, CategoryShipping, CategoryBanking,
	CategorySocial, CategoryUpdates, CategoryForums, CategoryGeneral,
}

// ParseCategory normalises s. Unknown values map to CategoryGeneral.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Categories, c) {
		return c, true
	}
	return CategoryGeneral, false
}

// RequiresAttachments reports whether documents of this category arrive as
// attachments (PDF bills, invoices, receipts).
func (c Category) RequiresAttachments() bool {
	switch c {
	case CategoryBills, CategoryInvoice, CategoryReceipts, CategoryOrders:
		return true
	}
	return false
}

// InboxLabel maps the category onto a provider inbox tab.
func (c Category) InboxLabel() string {
	switch c {
	case CategoryPromotions, CategoryDiscounts:
		return "promotions"
	case CategorySocial, CategoryUpdates, CategoryForums:
		return string(c)
	}
	return "primary"
}

// Schema returns the extraction schema family for the category.
func (c Category) Schema() string {
	switch c {
	case CategoryBills, CategoryInvoice, CategoryBanking:
		return "bill"
	case CategoryPromotions, CategoryDiscounts:
		return "promotion"
	case CategoryOrders, CategoryReceipts, CategoryShipping:
		return "order"
	}
	return "general"
}
