package provision

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

// Account is the credential bundle returned when an account is created,
// transferred or modified.
type Account struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Link      string `json:"link"`
	QRCode    string `json:"qr_code"`
	PanelName string `json:"panel_name"`
	DataLimit Text   `json:"data_limit"`
	Expiry    Text   `json:"expiry"`
	Status    Text   `json:"status"`
	FromPanel Text   `json:"from_panel"`
	ToPanel   Text   `json:"to_panel"`
}

// Text accepts a JSON string, number or bool; the panel API is not
// consistent about which one it sends for display fields.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Text(s)
		return nil
	}
	*t = Text(strings.TrimSpace(string(b)))
	return nil
}

func (t Text) String() string { return string(t) }

// Traffic is one usage figure in both raw and display form.
type Traffic struct {
	Bytes int64  `json:"bytes"`
	Text  string `json:"text"`
}

// AccountStatus is the result of a configuration check.
type AccountStatus struct {
	Email     string `json:"email"`
	Protocol  string `json:"protocol"`
	PanelName string `json:"panel_name"`
	Enable    bool   `json:"enable"`
	Traffic   struct {
		Upload          Traffic `json:"upload"`
		Download        Traffic `json:"download"`
		Total           Traffic `json:"total"`
		Used            Traffic `json:"used"`
		Remaining       Traffic `json:"remaining"`
		UsagePercentage Text    `json:"usage_percentage"`
	} `json:"traffic"`
	Expiry struct {
		Status        string `json:"status"`
		RemainingTime string `json:"remaining_time"`
		ExpiryDate    string `json:"expiry_date"`
		DaysRemaining Text   `json:"days_remaining"`
	} `json:"expiry"`
}

// Expiry status values reported by Check.
const (
	ExpiryExpired      = "expired"
	ExpiryExpiringSoon = "expiring_soon"
)

// CreateRequest describes a premium account to provision.
type CreateRequest struct {
	GB    int
	Name  string
	Days  int
	Panel int
}

// CreateTrial provisions the one trial account a Telegram user may hold.
func (c *Client) CreateTrial(ctx context.Context, telegramID int64) (Account, error) {
	var acc Account
	err := c.call(ctx, "trial", map[string]any{"trial": telegramID}, &acc)
	return acc, err
}

// GetTrial returns the existing trial account of a Telegram user.
func (c *Client) GetTrial(ctx context.Context, telegramID int64) (Account, error) {
	var acc Account
	err := c.call(ctx, "trialkey", map[string]any{"trialkey": telegramID}, &acc)
	return acc, err
}

// CreateAccount provisions a premium account. Days <= 0 means no expiry.
func (c *Client) CreateAccount(ctx context.Context, req CreateRequest) (Account, error) {
	var acc Account
	err := c.call(ctx, "create", map[string]any{
		"key":   req.GB,
		"name":  req.Name,
		"exp":   req.Days,
		"panel": req.Panel,
	}, &acc)
	return acc, err
}

// DeleteAccount removes a premium account from a panel.
func (c *Client) DeleteAccount(ctx context.Context, name string, panel int) error {
	return c.call(ctx, "delete", map[string]any{"delete": name, "panel": panel}, nil)
}

// DeleteTrial removes a trial account by its name or owner id.
func (c *Client) DeleteTrial(ctx context.Context, name string) error {
	return c.call(ctx, "deltrial", map[string]any{"delete": name}, nil)
}

// CleanupReport summarizes an expired-account sweep.
type CleanupReport struct {
	PanelName         string   `json:"panel_name"`
	DeletedCount      int      `json:"deleted_count"`
	TotalExpiredFound int      `json:"total_expired_found"`
	Status            string   `json:"status"`
	FailedDeletions   []string `json:"failed_deletions"`
}

// DeleteExpired sweeps expired accounts; panel 0 sweeps every panel.
func (c *Client) DeleteExpired(ctx context.Context, panel int) (CleanupReport, error) {
	body := map[string]any{"delexp": true}
	if panel > 0 {
		body["panel"] = panel
	}
	var rep CleanupReport
	err := c.call(ctx, "delexp", body, &rep)
	return rep, err
}

// Check inspects an account by config link, email or UUID.
func (c *Client) Check(ctx context.Context, config string) (AccountStatus, error) {
	var st AccountStatus
	err := c.call(ctx, "check", map[string]any{"config": strings.TrimSpace(config)}, &st)
	return st, err
}

// Transfer moves an account between panels.
func (c *Client) Transfer(ctx context.Context, name string, fromPanel, toPanel int) (Account, error) {
	var acc Account
	err := c.call(ctx, "transfer", map[string]any{
		"transfer":   name,
		"from_panel": fromPanel,
		"to_panel":   toPanel,
	}, &acc)
	return acc, err
}

// ResetTraffic zeroes the usage counters of an account.
func (c *Client) ResetTraffic(ctx context.Context, name string, panel int) (Account, error) {
	var acc Account
	err := c.call(ctx, "reset_traffic", map[string]any{"reset_traffic": name, "panel": panel}, &acc)
	return acc, err
}

// ModifyRequest changes quota, expiry or password of an account.
type ModifyRequest struct {
	Name     string
	Panel    int
	GB       int
	Days     int
	Password string
}

// Modify applies req to an existing account.
func (c *Client) Modify(ctx context.Context, req ModifyRequest) (Account, error) {
	var acc Account
	err := c.call(ctx, "mod", map[string]any{
		"mod":      req.Name,
		"panel":    req.Panel,
		"key":      req.GB,
		"exp":      req.Days,
		"mod_pass": req.Password,
	}, &acc)
	return acc, err
}

// BulkReport is returned by Bulk.
type BulkReport struct {
	Status     string `json:"status"`
	NamesCount int    `json:"names_count"`
}

// Bulk provisions several accounts with the same limits.
func (c *Client) Bulk(ctx context.Context, names []string, gb, days, panel int) (BulkReport, error) {
	rep := BulkReport{NamesCount: len(names)}
	err := c.call(ctx, "bulk", map[string]any{
		"bulk":  strings.Join(names, ","),
		"key":   gb,
		"exp":   days,
		"panel": panel,
	}, &rep)
	return rep, err
}

// RunWarnings asks the panel to notify owners of expiring accounts.
func (c *Client) RunWarnings(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	err := c.call(ctx, "run_warnings", map[string]any{"run_warnings": true}, &out)
	return out.Status, err
}

// OptimalPanel is the least loaded panel for an account type.
type OptimalPanel struct {
	Panel       int    `json:"optimal_panel"`
	PanelName   string `json:"panel_name"`
	AccountType string `json:"account_type"`
}

// Optimal returns the least loaded panel for accountType ("premium" or "trial").
func (c *Client) Optimal(ctx context.Context, accountType string) (OptimalPanel, error) {
	if accountType == "" {
		accountType = "premium"
	}
	var out OptimalPanel
	err := c.call(ctx, "optimal", map[string]any{"optimal": true, "type": accountType}, &out)
	return out, err
}

// PanelStats is the raw statistics object keyed by the panel API.
type PanelStats map[string]any

// Stats returns per-panel statistics.
func (c *Client) Stats(ctx context.Context) (PanelStats, error) {
	out := PanelStats{}
	err := c.call(ctx, "stats", map[string]any{"stats": true}, &out)
	return out, err
}

// Online lists connected account emails grouped by panel name.
type Online struct {
	Total   int                 `json:"total_online_users"`
	ByPanel map[string][]string `json:"online_users_by_panel"`
}

// OnlineUser is one row of the flattened online listing.
type OnlineUser struct {
	Index int
	Email string
	Panel string
}

// Flatten returns every online account ordered by panel name then as listed.
func (o Online) Flatten() []OnlineUser {
	panels := make([]string, 0, len(o.ByPanel))
	for p := range o.ByPanel {
		panels = append(panels, p)
	}
	sort.Strings(panels)
	var out []OnlineUser
	for _, p := range panels {
		for _, email := range o.ByPanel[p] {
			out = append(out, OnlineUser{Index: len(out) + 1, Email: email, Panel: p})
		}
	}
	return out
}

// Online fetches the currently connected accounts.
func (c *Client) Online(ctx context.Context) (Online, error) {
	var out Online
	err := c.call(ctx, "online", map[string]any{"online": true}, &out)
	return out, err
}
