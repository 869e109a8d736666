package identity

import (
	"regexp"
	"strings"

	"github.com/seanmck/mailcorr/internal/mailbox"
)

// Matching thresholds. The heuristics lean permissive: a missed real
// reply costs more than a false positive.
const (
	minUsernameLen   = 5 // exclusive: local parts must be longer than this
	minNameWordLen   = 3
	minTargetNameLen = 4
	minLocalTokenLen = 3 // exclusive for substring containment
	minOverlapWords  = 3
)

// senderInput carries the precomputed facts every sender rule works on.
type senderInput struct {
	addr        string   // normalized sender address
	local       string   // sender local part
	localTokens []string // sender local part split on dots
	name        string   // normalized sender display name

	targetAddr   string
	targetLocal  string
	targetTokens []string
	targetName   string // normalized target display name, may be ""
}

// senderRules are independent sufficient conditions, evaluated as a
// logical OR. Order only short-circuits the cheap checks first.
var senderRules = []func(senderInput) bool{
	matchExactAddress,
	matchLongUsername,
	matchDottedUsername,
	matchDisplayName,
	matchUsernameInName,
}

// IsSender reports whether the message was sent by the target identity.
// Total: arbitrary (including empty or malformed) input yields false, not
// a panic. targetName is optional.
func IsSender(msg mailbox.MessageRecord, targetEmail, targetName string) bool {
	in := senderInput{
		addr:       NormalizeAddress(msg.SenderAddress),
		name:       Normalize(msg.SenderName),
		targetAddr: NormalizeAddress(targetEmail),
		targetName: Normalize(targetName),
	}
	in.local = localPart(in.addr)
	in.localTokens = dotTokens(in.local)
	in.targetLocal = localPart(in.targetAddr)
	in.targetTokens = dotTokens(in.targetLocal)

	for _, rule := range senderRules {
		if rule(in) {
			return true
		}
	}
	return false
}

// matchExactAddress: normalized sender address equals the target address.
func matchExactAddress(in senderInput) bool {
	return in.addr != "" && in.addr == in.targetAddr
}

// matchLongUsername: local parts are equal and long enough that the match
// is unlikely to be a coincidence (guards short, common local parts).
func matchLongUsername(in senderInput) bool {
	return in.local != "" && in.local == in.targetLocal && len(in.local) > minUsernameLen
}

// matchDottedUsername: the target local part is dot-separated, both local
// parts have the same number of dotted segments, and at least one segment
// is shared. Catches jane.doe vs jane.m.doe style rewrites only when the
// segment counts line up.
func matchDottedUsername(in senderInput) bool {
	if !strings.Contains(in.targetLocal, ".") {
		return false
	}
	if len(in.localTokens) == 0 || len(in.localTokens) != len(in.targetTokens) {
		return false
	}
	for _, st := range in.localTokens {
		for _, tt := range in.targetTokens {
			if st == tt {
				return true
			}
		}
	}
	return false
}

// matchDisplayName compares normalized display names. Requires the target
// name to be present and at least minTargetNameLen characters.
func matchDisplayName(in senderInput) bool {
	if len(in.targetName) < minTargetNameLen || in.name == "" {
		return false
	}
	if in.name == in.targetName {
		return true
	}

	senderWords := words(in.name, minNameWordLen)
	targetWords := words(in.targetName, minNameWordLen)

	// Word overlap: at least max(3, ceil(0.75 × targetWordCount)) shared
	// words of ≥3 characters.
	if len(targetWords) > 0 {
		need := (len(targetWords)*3 + 3) / 4 // ceil(0.75 n)
		if need < minOverlapWords {
			need = minOverlapWords
		}
		senderSet := make(map[string]bool, len(senderWords))
		for _, w := range senderWords {
			senderSet[w] = true
		}
		overlap := 0
		for _, w := range targetWords {
			if senderSet[w] {
				overlap++
			}
		}
		if overlap >= need {
			return true
		}
	}

	// Containment: every sender word is a substring or superstring of some
	// target word, with at least 3 sender words in play.
	if len(senderWords) >= 3 && allWordsContained(senderWords, targetWords) {
		return true
	}

	// Compound first names / double surnames: the first-two-words or
	// last-two-words segments match exactly.
	return segmentMatch(strings.Fields(in.name), strings.Fields(in.targetName))
}

func allWordsContained(senderWords, targetWords []string) bool {
	for _, sw := range senderWords {
		found := false
		for _, tw := range targetWords {
			if strings.Contains(tw, sw) || strings.Contains(sw, tw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func segmentMatch(senderWords, targetWords []string) bool {
	if len(senderWords) < 2 || len(targetWords) < 2 {
		return false
	}
	firstTwo := func(w []string) string { return w[0] + " " + w[1] }
	lastTwo := func(w []string) string { return w[len(w)-2] + " " + w[len(w)-1] }
	return firstTwo(senderWords) == firstTwo(targetWords) ||
		lastTwo(senderWords) == lastTwo(targetWords)
}

// matchUsernameInName: every dotted token of the target's local part
// longer than 3 characters appears as a substring of the sender's display
// name. Handles directory entries that expose only a name. Short tokens
// are ignored rather than allowed to veto the rule.
func matchUsernameInName(in senderInput) bool {
	if in.name == "" {
		return false
	}
	qualified := 0
	for _, t := range in.targetTokens {
		if len(t) <= minLocalTokenLen {
			continue
		}
		if !strings.Contains(in.name, t) {
			return false
		}
		qualified++
	}
	return qualified > 0
}

// emailTokenRe extracts RFC-shaped address tokens from free recipient text.
var emailTokenRe = regexp.MustCompile(`[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

// IsRecipient reports whether the target identity appears among the
// message's recipients. Recipients are free text: address entries, or
// NAME:-prefixed pseudo-tokens when the provider could not resolve an
// address. Total; favors recall over precision.
func IsRecipient(recipients []string, targetEmail, firstName, lastName string) bool {
	if len(recipients) == 0 {
		return false
	}
	joined := NormalizeAddress(strings.Join(recipients, "; "))
	target := NormalizeAddress(targetEmail)

	// Plain substring of the full recipient text.
	if target != "" && strings.Contains(joined, target) {
		return true
	}

	if target != "" && matchAddressTokens(joined, target) {
		return true
	}

	return matchNameTokens(recipients, target, Normalize(firstName), Normalize(lastName))
}

// matchAddressTokens extracts address-shaped tokens and compares each
// against the target by equality, local-part containment, or same-domain
// local containment.
func matchAddressTokens(joined, target string) bool {
	targetLocal := localPart(target)
	targetDomain := domainPart(target)

	for _, tok := range emailTokenRe.FindAllString(joined, -1) {
		if tok == target {
			return true
		}
		local := localPart(tok)
		shorter := local
		if len(targetLocal) < len(shorter) {
			shorter = targetLocal
		}
		if len(shorter) > minLocalTokenLen &&
			(strings.Contains(local, targetLocal) || strings.Contains(targetLocal, local)) {
			return true
		}
		if targetDomain != "" && domainPart(tok) == targetDomain &&
			(strings.Contains(local, targetLocal) || strings.Contains(targetLocal, local)) {
			return true
		}
	}
	return false
}

// matchNameTokens compares NAME:-prefixed recipient entries against the
// name forms a directory might have produced for the target, and against
// the dotted segments of the target's address.
func matchNameTokens(recipients []string, target, first, last string) bool {
	candidates := nameCandidates(first, last)
	segments := dotTokens(localPart(target))

	for _, entry := range recipients {
		trimmed := strings.TrimSpace(entry)
		if !strings.HasPrefix(strings.ToUpper(trimmed), NamePrefixUpper) {
			continue
		}
		name := Normalize(trimmed[len(mailbox.NamePrefix):])
		if name == "" {
			continue
		}
		for _, c := range candidates {
			if name == c {
				return true
			}
		}
		if matchDottedSegments(name, segments) {
			return true
		}
	}
	return false
}

// NamePrefixUpper is the NAME: marker in canonical comparison form.
const NamePrefixUpper = "NAME:"

// nameCandidates lists the forms a directory may have rendered the
// target's name in: bare first/last, dotted in both orders, concatenated,
// and full "first last" / "last first".
func nameCandidates(first, last string) []string {
	var out []string
	add := func(s string) {
		if s != "" {
			out = append(out, s)
		}
	}
	add(first)
	add(last)
	if first != "" && last != "" {
		add(last + "." + first)
		add(first + "." + last)
		add(first + last)
		add(last + first)
		add(first + " " + last)
		add(last + " " + first)
	}
	return out
}

// matchDottedSegments matches a NAME: token against the dotted segments
// of the target's local part, individually or with the order reversed.
func matchDottedSegments(name string, segments []string) bool {
	if len(segments) == 0 {
		return false
	}
	for _, seg := range segments {
		if len(seg) > minLocalTokenLen && name == seg {
			return true
		}
	}
	if len(segments) < 2 {
		return false
	}
	reversed := make([]string, len(segments))
	for i, seg := range segments {
		reversed[len(segments)-1-i] = seg
	}
	return name == strings.Join(segments, ".") || name == strings.Join(reversed, ".")
}
