package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/v2raybot/app/config"
	"github.com/m3rciful/v2raybot/app/provision"
	"github.com/m3rciful/v2raybot/core/telegram/format"
)

const dateLayout = "2006-01-02 15:04"

func (b *Bot) date(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(b.settings.Location).Format(dateLayout)
}

func (b *Bot) serverName(panel int) string {
	for _, s := range b.settings.Servers {
		if s.Panel == panel {
			return s.Name
		}
	}
	return fmt.Sprintf("Panel %d", panel)
}

func (b *Bot) knownServer(panel int) bool {
	for _, s := range b.settings.Servers {
		if s.Panel == panel {
			return true
		}
	}
	return false
}

func (b *Bot) plan(gb int) (config.Plan, bool) {
	for _, p := range b.settings.PremiumPlans {
		if p.GB == gb {
			return p, true
		}
	}
	return config.Plan{}, false
}

func (b *Bot) method(key string) (config.PaymentMethod, bool) {
	for _, m := range b.settings.PaymentMethods {
		if m.Key == key {
			return m, true
		}
	}
	return config.PaymentMethod{}, false
}

func (b *Bot) sep(lang string) string {
	return b.t(lang, "separator")
}

func (b *Bot) yesNo(lang string, v bool) string {
	if v {
		return b.t(lang, "yes")
	}
	return b.t(lang, "no")
}

// upstream returns the message to show for a failed panel call.
func (b *Bot) upstream(lang string, err error) string {
	var apiErr *provision.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return b.t(lang, "error_prefix") + " " + format.MD(apiErr.Message)
	}
	return b.t(lang, "error_generic")
}

// accountText renders the credentials of a provisioned account.
func (b *Bot) accountText(lang, title string, acc provision.Account) string {
	var sb strings.Builder
	sb.WriteString(title + "\n" + b.sep(lang) + "\n")
	field := func(key, value string) {
		if value != "" {
			sb.WriteString(b.t(lang, key) + " " + value + "\n")
		}
	}
	if acc.Email != "" {
		field("field_email", "`"+acc.Email+"`")
	}
	if acc.Password != "" {
		field("field_password", "`"+acc.Password+"`")
	}
	field("field_data_limit", format.MD(acc.DataLimit.String()))
	field("field_expiry", format.MD(acc.Expiry.String()))
	field("field_panel", format.MD(acc.PanelName))
	if acc.Link != "" {
		sb.WriteString("\n" + b.t(lang, "field_link") + "\n`" + acc.Link + "`\n")
	}
	if acc.QRCode != "" {
		sb.WriteString("\n" + b.t(lang, "field_qr") + " " + format.MD(acc.QRCode) + "\n")
	}
	sb.WriteString("\n" + b.t(lang, "tip_copy_link"))
	return sb.String()
}

// statusText renders the usage report of a checked account.
func (b *Bot) statusText(lang string, st provision.AccountStatus) string {
	var sb strings.Builder
	line := func(key, value string) {
		sb.WriteString(b.t(lang, key) + " " + value + "\n")
	}
	sb.WriteString(b.t(lang, "account_status_title") + "\n" + b.sep(lang) + "\n")
	line("field_email", "`"+st.Email+"`")
	if st.Protocol != "" {
		line("field_protocol", format.MD(st.Protocol))
	}
	if st.PanelName != "" {
		line("field_panel", format.MD(st.PanelName))
	}
	status := b.t(lang, "status_disabled")
	if st.Enable {
		status = b.t(lang, "status_active")
	}
	line("field_status", status)

	tr := st.Traffic
	sb.WriteString("\n" + b.t(lang, "traffic_title") + "\n")
	line("field_upload", format.MD(tr.Upload.Text))
	line("field_download", format.MD(tr.Download.Text))
	line("field_used", format.MD(tr.Used.Text))
	line("field_total", format.MD(tr.Total.Text))
	line("field_remaining", format.MD(tr.Remaining.Text))
	if pct := tr.UsagePercentage.String(); pct != "" {
		line("field_usage_percent", format.MD(pct)+"%")
	}

	ex := st.Expiry
	sb.WriteString("\n" + b.t(lang, "expiry_title") + "\n")
	switch ex.Status {
	case provision.ExpiryExpired:
		line("field_expiry_status", b.t(lang, "expiry_expired"))
	case provision.ExpiryExpiringSoon:
		line("field_expiry_status", b.t(lang, "expiry_expiring_soon"))
	}
	if ex.RemainingTime != "" {
		line("field_remaining_time", format.MD(ex.RemainingTime))
	}
	if ex.ExpiryDate != "" {
		line("field_expiry_date", format.MD(ex.ExpiryDate))
	}
	if d := ex.DaysRemaining.String(); d != "" {
		line("field_days_left", format.MD(d))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil
}

func atoi64(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n, err == nil
}

func usernameOf(username, none string) string {
	if username == "" {
		return none
	}
	return format.MD("@" + username)
}
