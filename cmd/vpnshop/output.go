package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/dustin/go-humanize"
)

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println("no results")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func formatUint(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}

func formatMaybeUint(v *uint) string {
	if v == nil {
		return "-"
	}
	return formatUint(*v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatMaybeTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

// formatAmount prints minor units with a thousands separator.
func formatAmount(v int64) string {
	if v%100 == 0 {
		return humanize.Comma(v / 100)
	}
	return humanize.CommafWithDigits(float64(v)/100, 2)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printCatalog(items []domain.CatalogItem) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			formatUint(item.ID),
			item.Name,
			formatAmount(item.Price),
			strconv.Itoa(item.DurationDays),
			string(item.Protocol),
			yesNo(item.IsActive),
		})
	}
	printTable([]string{"ID", "NAME", "PRICE", "DAYS", "PROTOCOL", "ACTIVE"}, rows)
}

func printCatalogItem(item domain.CatalogItem) {
	printKV([][2]string{
		{"id", formatUint(item.ID)},
		{"name", item.Name},
		{"price", formatAmount(item.Price)},
		{"duration_days", strconv.Itoa(item.DurationDays)},
		{"protocol", string(item.Protocol)},
		{"active", yesNo(item.IsActive)},
	})
}

func printPaymentMethods(items []domain.PaymentMethod) {
	rows := make([][]string, 0, len(items))
	for _, m := range items {
		rows = append(rows, []string{formatUint(m.ID), m.Name, yesNo(m.IsActive), formatTime(m.UpdatedAt)})
	}
	printTable([]string{"ID", "NAME", "ACTIVE", "UPDATED_AT"}, rows)
}

func printOrders(items []domain.OrderSummary) {
	rows := make([][]string, 0, len(items))
	for _, o := range items {
		rows = append(rows, []string{
			formatUint(o.ID),
			o.BuyerName,
			strconv.FormatInt(o.BuyerTelegramID, 10),
			o.ItemName,
			formatAmount(o.Amount),
			o.PaymentMethodName,
			string(o.Status),
			formatTime(o.CreatedAt),
		})
	}
	printTable([]string{"ID", "BUYER", "TELEGRAM_ID", "ITEM", "AMOUNT", "METHOD", "STATUS", "CREATED_AT"}, rows)
}

func printOrder(o domain.Order) {
	printKV([][2]string{
		{"id", formatUint(o.ID)},
		{"buyer_id", formatUint(o.BuyerID)},
		{"item", o.ItemName},
		{"amount", formatAmount(o.Amount)},
		{"protocol", string(o.Protocol)},
		{"duration_days", strconv.Itoa(o.DurationDays)},
		{"status", string(o.Status)},
		{"credential_id", formatMaybeUint(o.CredentialID)},
		{"paid_at", formatMaybeTime(o.PaidAt)},
		{"completed_at", formatMaybeTime(o.CompletedAt)},
	})
}

func printCredentials(items []domain.Credential) {
	rows := make([][]string, 0, len(items))
	for _, c := range items {
		rows = append(rows, []string{
			formatUint(c.ID),
			formatUint(c.BuyerID),
			c.Name,
			string(c.Protocol),
			formatTime(c.ValidUntil),
			humanize.Time(c.ValidUntil),
			yesNo(c.IsActive),
		})
	}
	printTable([]string{"ID", "BUYER_ID", "NAME", "PROTOCOL", "VALID_UNTIL", "EXPIRES", "ACTIVE"}, rows)
}

func printCredential(c domain.Credential) {
	printKV([][2]string{
		{"id", formatUint(c.ID)},
		{"buyer_id", formatUint(c.BuyerID)},
		{"name", c.Name},
		{"protocol", string(c.Protocol)},
		{"valid_until", formatTime(c.ValidUntil)},
		{"active", yesNo(c.IsActive)},
	})
}

func printBuyers(items []domain.Buyer) {
	rows := make([][]string, 0, len(items))
	for _, b := range items {
		rows = append(rows, []string{
			formatUint(b.ID),
			strconv.FormatInt(b.TelegramID, 10),
			b.DisplayName(),
			yesNo(b.IsBlocked),
			formatTime(b.RegisteredAt),
		})
	}
	printTable([]string{"ID", "TELEGRAM_ID", "NAME", "BLOCKED", "REGISTERED_AT"}, rows)
}

func printSettings(settings map[string]string) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][2]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, [2]string{k, settings[k]})
	}
	printKV(rows)
}

func printStats(s domain.ShopStats) {
	printKV([][2]string{
		{"buyers", humanize.Comma(s.Buyers)},
		{"blocked_buyers", humanize.Comma(s.BlockedBuyers)},
		{"active_credentials", humanize.Comma(s.ActiveCredentials)},
		{"pending_orders", humanize.Comma(s.PendingOrders)},
		{"awaiting_orders", humanize.Comma(s.AwaitingOrders)},
		{"completed_orders", humanize.Comma(s.CompletedOrders)},
		{"revenue", formatAmount(s.Revenue)},
	})
}

type userRow struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func printUsers(items []userRow) {
	rows := make([][]string, 0, len(items))
	for _, u := range items {
		rows = append(rows, []string{formatUint(u.ID), u.Email, u.Role})
	}
	printTable([]string{"ID", "EMAIL", "ROLE"}, rows)
}

func printAudit(items []domain.AuditRecord) {
	rows := make([][]string, 0, len(items))
	for _, a := range items {
		actor := a.ActorUserEmail
		if actor == "" {
			actor = formatMaybeUint(a.ActorUserID)
		}
		rows = append(rows, []string{
			formatUint(a.ID),
			actor,
			a.Action,
			a.TargetType,
			formatMaybeUint(a.TargetID),
			formatTime(a.CreatedAt),
		})
	}
	printTable([]string{"ID", "ACTOR", "ACTION", "TARGET_TYPE", "TARGET_ID", "CREATED_AT"}, rows)
}
