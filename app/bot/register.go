package bot

import (
	tg "github.com/m3rciful/v2raybot/core/telegram"
	"github.com/m3rciful/v2raybot/core/telegram/commands"
)

type namedCommand struct {
	name string
	cmd  commands.Command
}

type patternCallback struct {
	pattern string
	cb      commands.Callback
}

// Register adds every command, button and state consumer to reg.
func (b *Bot) Register(reg *tg.Registry) error {
	for _, c := range b.commandTable() {
		reg.RegisterCommand(c.name, c.cmd)
	}
	for _, c := range b.callbackTable() {
		if err := reg.RegisterCallback(c.pattern, c.cb); err != nil {
			return err
		}
	}
	reg.RegisterConsumer(commands.Consumer{State: StatePaymentProof, Expect: commands.ExpectText, Handler: b.paymentProof})
	reg.RegisterConsumer(commands.Consumer{State: StateCustomQuantity, Expect: commands.ExpectText, Handler: b.customQuantity})
	reg.RegisterConsumer(commands.Consumer{State: StateKVValue, Expect: commands.ExpectText, Handler: b.kvValue})
	reg.RegisterConsumer(commands.Consumer{State: StateRedeemPanel, Expect: commands.ExpectChoice, Handler: b.choiceAbandoned})
	reg.RegisterConsumer(commands.Consumer{State: StateCreatePanel, Expect: commands.ExpectChoice, Handler: b.choiceAbandoned})
	return nil
}

func (b *Bot) commandTable() []namedCommand {
	user := func(name, desc string, c commands.Command) namedCommand {
		c.Description = desc
		return namedCommand{name: name, cmd: c}
	}
	admin := func(name, desc string, c commands.Command) namedCommand {
		c.Description = desc
		c.AdminOnly = true
		return namedCommand{name: name, cmd: c}
	}
	return []namedCommand{
		user("/start", "Start the bot", commands.Command{Handler: b.start}),
		user("/premium", "Buy a premium plan", commands.Command{Handler: b.premium}),
		user("/referral", "Referral link and credits", commands.Command{Handler: b.referral}),
		user("/trial", "Create a free trial account", commands.Command{Handler: b.trial}),
		user("/mytrial", "Show your trial account", commands.Command{Handler: b.myTrial}),
		user("/check", "Check an account", commands.Command{Handler: b.check}),
		user("/apps", "Recommended apps", commands.Command{Handler: b.apps}),
		user("/id", "Your account information", commands.Command{Handler: b.id}),
		user("/language", "Change language", commands.Command{Handler: b.language, Aliases: []string{"/lang"}}),
		user("/request", "Message the administrators", commands.Command{Handler: b.request}),
		user("/help", "Show help", commands.Command{Handler: b.help}),
		user("/cancel", "Cancel the current step", commands.Command{Handler: b.cancel}),

		admin("/admin", "Admin panel", commands.Command{Handler: b.adminMenu}),
		admin("/online", "Online users", commands.Command{Handler: b.onlineUsers}),
		admin("/stats", "User statistics", commands.Command{Handler: b.stats}),
		admin("/broadcast", "Broadcast the replied message", commands.Command{Handler: b.broadcast}),
		admin("/reply", "Answer a user", commands.Command{Handler: b.replyUser}),
		admin("/approve", "Approve a payment", commands.Command{Handler: b.approveCommand, KeepsState: true}),
		admin("/reject", "Reject a payment", commands.Command{Handler: b.rejectCommand, KeepsState: true}),
		admin("/ban", "Ban a user", commands.Command{Handler: b.ban}),
		admin("/unban", "Unban a user", commands.Command{Handler: b.unban}),
		admin("/create", "Create an account", commands.Command{Handler: b.create}),
		admin("/delprem", "Delete an account", commands.Command{Handler: b.delPrem}),
		admin("/deltrial", "Delete a trial account", commands.Command{Handler: b.delTrial}),
		admin("/delexp", "Delete expired accounts", commands.Command{Handler: b.delExpired}),
		admin("/transfer", "Move an account", commands.Command{Handler: b.transfer}),
		admin("/reset", "Reset traffic", commands.Command{Handler: b.resetTraffic}),
		admin("/mod", "Modify an account", commands.Command{Handler: b.modify}),
		admin("/bulk", "Create accounts in bulk", commands.Command{Handler: b.bulk}),
		admin("/runwarnings", "Send expiry warnings", commands.Command{Handler: b.runWarnings}),
		admin("/optimal", "Least loaded server", commands.Command{Handler: b.optimal}),
		admin("/addcredit", "Add credits", commands.Command{Handler: b.addCredit}),
		admin("/removecredit", "Remove credits", commands.Command{Handler: b.removeCredit}),
		admin("/getkv", "Read a stored document", commands.Command{Handler: b.getKV}),
		admin("/setkv", "Write a stored document", commands.Command{Handler: b.setKV}),
	}
}

func (b *Bot) callbackTable() []patternCallback {
	cb := func(pattern string, c commands.Callback) patternCallback {
		return patternCallback{pattern: pattern, cb: c}
	}
	return []patternCallback{
		cb("menu_start", commands.Callback{Handler: b.start}),
		cb("menu_main", commands.Callback{Handler: b.mainMenu}),
		cb("menu_about", commands.Callback{Handler: b.about}),
		cb("menu_policy", commands.Callback{Handler: b.policy}),
		cb("menu_language", commands.Callback{Handler: b.language}),
		cb("menu_trial", commands.Callback{Handler: b.trial}),
		cb("menu_mytrial", commands.Callback{Handler: b.myTrial}),
		cb("ignore", commands.Callback{Handler: noop, KeepsState: true}),
		cb("set_lang_([a-z]{2})", commands.Callback{Name: "set_lang", Handler: b.setLang}),
		cb("apps_back", commands.Callback{Handler: b.apps}),
		cb("apps_(ios|android|windows|macos)", commands.Callback{Name: "apps_device", Handler: b.appsDevice}),

		cb("menu_premium", commands.Callback{Handler: b.premium}),
		cb("menu_premium_desc", commands.Callback{Handler: b.premiumDesc}),
		cb(`premium_select_(\d+)`, commands.Callback{Name: "premium_select", Handler: b.premiumSelect, KeepsState: true}),
		cb(`method_select_(\d+)_([^_\s]+)`, commands.Callback{Name: "method_select", Handler: b.methodSelect, KeepsState: true}),

		cb("referral_back", commands.Callback{Handler: b.referral}),
		cb("show_credit_history", commands.Callback{Handler: b.creditHistory}),
		cb("verify_channel_join", commands.Callback{Handler: b.verifyJoin}),
		cb(`redeem_(\d+)gb`, commands.Callback{Name: "redeem_plan", Handler: b.redeemPlan}),
		cb("redeem_custom_prompt", commands.Callback{Handler: b.customPrompt, KeepsState: true}),
		cb(`redeem_panel_final_(\d+)_(\d+)`, commands.Callback{Name: "redeem_final", Handler: b.redeemFinal, KeepsState: true}),
		cb(`view_my_keys_page_(\d+)`, commands.Callback{Name: "my_keys", Handler: b.myKeys, KeepsState: true}),
		cb(`key_delete_confirm_([a-zA-Z0-9]+)_(\d+)`, commands.Callback{Name: "key_delete_confirm", Handler: b.keyDeleteConfirm, KeepsState: true}),
		cb(`key_delete_final_([a-zA-Z0-9]+)_(\d+)`, commands.Callback{Name: "key_delete_final", Handler: b.keyDeleteFinal, KeepsState: true}),

		cb("menu_admin", commands.Callback{Handler: b.adminMenu, AdminOnly: true}),
		cb("admin_online_users", commands.Callback{Handler: b.onlineUsers, AdminOnly: true}),
		cb("admin_run_warnings", commands.Callback{Handler: b.runWarnings, AdminOnly: true}),
		cb("admin_stats_full", commands.Callback{Handler: b.stats, AdminOnly: true}),
		cb("admin_broadcast_prompt", commands.Callback{Handler: b.broadcastPrompt, AdminOnly: true}),
		cb(`online_page_(\d+)`, commands.Callback{Name: "online_page", Handler: b.onlineUsers, KeepsState: true, AdminOnly: true}),
		cb(`stats_users_(\d+)_(day|week|month|year|all)`, commands.Callback{Name: "stats_users", Handler: b.statsUsers, KeepsState: true, AdminOnly: true}),
		cb(`admin_create_panel_(\d+)_(\d+)_(\d+)_([a-zA-Z0-9@.-]+)`, commands.Callback{Name: "admin_create_panel", Handler: b.createPanel, KeepsState: true, AdminOnly: true}),
		cb(`admin_approve_(\d+)_(\d+)`, commands.Callback{Name: "admin_approve", Handler: b.approveButton, KeepsState: true, AdminOnly: true}),
		cb(`admin_reject_(\d+)`, commands.Callback{Name: "admin_reject", Handler: b.rejectButton, KeepsState: true, AdminOnly: true}),
	}
}
