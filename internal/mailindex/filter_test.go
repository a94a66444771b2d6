package mailindex

import "testing"

func TestKeepRow(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want bool
	}{
		{"inbox", Record{MailboxName: "INBOX", MailboxDisp: "INBOX"}, true},
		{"junk", Record{MailboxName: "Junk.mbox", MailboxDisp: "Junk"}, false},
		{"spam case-insensitive", Record{MailboxName: "SPAM", MailboxDisp: "Spam"}, false},
		{"trash", Record{MailboxName: "Trash", MailboxDisp: "Trash"}, false},
		{"promotions substring", Record{MailboxName: "Promotions.imapmbox", MailboxDisp: "Promotions"}, false},
		{"deleted items", Record{MailboxName: "Deleted Items", MailboxDisp: "Deleted Items"}, false},
		{"vip in junk is kept", Record{MailboxName: "Junk", MailboxDisp: "Junk", Flags: FlagVIP}, true},
		{"vip in inbox", Record{MailboxName: "INBOX", Flags: FlagVIP}, true},
		{"vip with other flags set", Record{MailboxName: "Spam", Flags: FlagVIP | 0x3}, true},
		{"non-vip flags in junk", Record{MailboxName: "Junk", Flags: 0x3}, false},
		{"display name triggers filter", Record{MailboxName: "Mailbox-7", MailboxDisp: "Bin"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keepRow(&tt.rec); got != tt.want {
				t.Errorf("keepRow(%+v) = %v, want %v", tt.rec, got, tt.want)
			}
		})
	}
}

func TestIsVIP(t *testing.T) {
	r := Record{Flags: FlagVIP}
	if !r.IsVIP() {
		t.Error("VIP bit set but IsVIP false")
	}
	r.Flags = FlagVIP - 1 // all lower bits, not the VIP bit
	if r.IsVIP() {
		t.Error("IsVIP true without the VIP bit")
	}
}
