// Package ui holds the admin console pages. Components render plain HTML
// that datastar patches in place by element id.
package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/dustin/go-humanize"
)

// Dashboard is everything the console front page shows.
type Dashboard struct {
	Email    string
	Stats    domain.ShopStats
	Awaiting []domain.OrderSummary
	Catalog  []domain.CatalogItem
}

// Price renders minor units with two decimals.
func Price(amount int64) string {
	if amount < 0 {
		return "-" + Price(-amount)
	}
	return fmt.Sprintf("%s.%02d", humanize.Comma(amount/100), amount%100)
}

func formatID(id uint) string { return strconv.FormatUint(uint64(id), 10) }

func count(n int64) string { return strconv.FormatInt(n, 10) }

func ago(t time.Time) string { return humanize.Time(t) }

func orderAction(id uint, action string) string {
	return fmt.Sprintf("@post('/gui/orders/%d/%s')", id, action)
}

func protocolLabel(p domain.Protocol) string { return strings.ToUpper(string(p)) }

func activeLabel(active bool) string {
	if active {
		return "yes"
	}
	return "no"
}
