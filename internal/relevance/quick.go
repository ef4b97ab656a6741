package relevance

import (
	"strings"
	"unicode"

	"github.com/rahul/billagent/internal/mail"
)

const previewLen = 500

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "for": true,
	"from": true, "to": true, "of": true, "in": true, "on": true, "at": true,
	"with": true, "my": true, "me": true, "all": true, "any": true, "some": true,
	"find": true, "show": true, "get": true, "give": true, "list": true,
	"scan": true, "check": true, "search": true, "look": true, "fetch": true,
	"what": true, "which": true, "when": true, "where": true, "how": true,
	"this": true, "that": true, "these": true, "those": true, "is": true,
	"are": true, "was": true, "were": true, "have": true, "has": true,
	"last": true, "past": true, "recent": true, "days": true, "week": true,
	"month": true, "please": true, "email": true, "emails": true, "mail": true,
	"inbox": true, "about": true, "can": true, "you": true,
}

// DefaultKeywords are the per-category keyword lists used by the quick
// filter. Categories absent from the map are not filtered lexically.
var DefaultKeywords = map[mail.Category][]string{
	mail.CategoryBills:      {"bill", "invoice", "payment", "due", "statement", "amount", "balance", "utility", "subscription"},
	mail.CategoryInvoice:    {"invoice", "bill", "payment", "amount due", "remit"},
	mail.CategoryReceipts:   {"receipt", "purchase", "order", "payment received", "thank you for your"},
	mail.CategoryOrders:     {"order", "confirmation", "purchase", "receipt", "shipped"},
	mail.CategoryPromotions: {"offer", "sale", "discount", "deal", "promo", "% off", "coupon"},
	mail.CategoryDiscounts:  {"discount", "coupon", "promo code", "% off", "save"},
	mail.CategoryShipping:   {"shipped", "delivery", "tracking", "package", "out for delivery", "dispatched"},
	mail.CategoryBanking:    {"statement", "account", "transaction", "balance", "bank", "credit card"},
}

// Tokens lowercases goal, splits it on anything that is not a letter or
// digit, and drops stop words and tokens of two characters or fewer.
func Tokens(goal string) []string {
	fields := strings.FieldsFunc(strings.ToLower(goal), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if len(f) <= 2 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// QuickMatch is the lexical test: a goal token or a category keyword appears
// in the subject, sender or body preview, or the category is attachment
// bearing and the item has an attachment.
func QuickMatch(item mail.Item, goal string, keywords []string, attachmentCategory bool) bool {
	haystack := strings.ToLower(item.Subject + " " + item.Sender + " " + item.Preview(previewLen))

	for _, tok := range Tokens(goal) {
		if strings.Contains(haystack, tok) {
			return true
		}
	}
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return attachmentCategory && item.HasAttachments()
}
