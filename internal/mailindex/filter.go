package mailindex

import "strings"

// noiseKeywords are mailbox-name fragments that mark low-value mail.
// Matching is case-insensitive substring.
var noiseKeywords = []string{
	"junk",
	"trash",
	"spam",
	"promotions",
	"bin",
	"deleted",
}

// keepRow decides whether an index row survives mailbox filtering.
// The VIP check runs first: VIP status always wins over mailbox-based
// heuristics, so VIP-flagged mail in a junk folder is still kept.
func keepRow(r *Record) bool {
	if r.IsVIP() {
		return true
	}
	name := strings.ToLower(r.MailboxName)
	disp := strings.ToLower(r.MailboxDisp)
	for _, kw := range noiseKeywords {
		if strings.Contains(name, kw) || strings.Contains(disp, kw) {
			return false
		}
	}
	return true
}
