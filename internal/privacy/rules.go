package privacy

import "regexp"

// Library is an immutable, ordered rule catalogue.
type Library struct {
	rules map[Category][]DetectionRule
	count int
}

// NewLibrary groups rules by category, keeping their relative order.
func NewLibrary(rules ...DetectionRule) *Library {
	l := &Library{rules: make(map[Category][]DetectionRule)}
	for _, r := range rules {
		l.rules[r.Category] = append(l.rules[r.Category], r)
		l.count++
	}
	return l
}

// RulesFor returns the rules of a category in application order.
func (l *Library) RulesFor(c Category) []DetectionRule {
	rules := l.rules[c]
	out := make([]DetectionRule, len(rules))
	copy(out, rules)
	return out
}

// Len returns the total number of rules.
func (l *Library) Len() int { return l.count }

const (
	staffTitles = `(?:대리|주임|사원|과장|차장|부장|팀장|실장|소장)`
	staffName   = `([가-힣]{2,4})\s+` + staffTitles
	rawPhone    = `[0-9-]+`
	rawEmail    = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	tokContact  = `\[연락처\]`
	tokEmail    = `\[이메일주소\]`

	plateRegions = `서울|부산|대구|인천|광주|대전|울산|세종|경기|강원|충북|충남|전북|전남|경북|경남|제주`
)

var followedByParen = regexp.MustCompile(`^\s*\(`)

// staffBlock replaces a name+title match with the staff token and the
// contact tokens that accompanied it.
func staffBlock(parts ...Token) Replacement {
	out := string(TokenStaffName)
	if len(parts) > 0 {
		out += "("
		for i, p := range parts {
			if i > 0 {
				out += ", "
			}
			out += string(p)
		}
		out += ")"
	}
	return Transform(func(Match) string { return out })
}

// groupToken swaps only the first capture group for token.
func groupToken(token Token) Replacement {
	return Transform(func(m Match) string { return m.ReplaceGroup(1, string(token)) })
}

func staffRule(name, tail string, repl Replacement) DetectionRule {
	return DetectionRule{
		Name:        name,
		Category:    NameTitleCombination,
		Pattern:     regexp.MustCompile(staffName + tail),
		Replacement: repl,
		Guarded:     true,
		WordStart:   true,
	}
}

func nameRule(name, pattern string, wordStart bool) DetectionRule {
	return DetectionRule{
		Name:        name,
		Category:    BarePersonalName,
		Pattern:     regexp.MustCompile(pattern),
		Replacement: groupToken(TokenName),
		Guarded:     true,
		WordStart:   wordStart,
	}
}

func literalRule(name string, c Category, pattern string, token Token) DetectionRule {
	return DetectionRule{
		Name:        name,
		Category:    c,
		Pattern:     regexp.MustCompile(pattern),
		Replacement: Literal(token),
	}
}

// DefaultLibrary returns the built-in catalogue for Korean expressway
// complaint text. Composite rules precede the rules matching their parts.
func DefaultLibrary() *Library {
	return NewLibrary(
		// Organization contact blocks
		literalRule("org_branch_team_block", OrgContactBlock,
			`한국도로공사\s+[가-힣]+(?:지사|본부|사업단)\s+[가-힣]+(?:팀|센터)\s*\([^)]+\)`,
			TokenOrgContactBlock),
		literalRule("org_staff_contact_block", OrgContactBlock,
			`\(담당자[^)]*(?:\d{3}-\d{3,4}-\d{4}|`+tokContact+`)[^)]*\)`,
			TokenStaffContactBlock),

		// Phone and email
		literalRule("phone_number", PersonalContactBlock,
			`0\d{1,2}[-\s]*\d{3,4}[-\s]*\d{4}`, TokenContact),
		literalRule("corporate_email", PersonalContactBlock,
			`[a-zA-Z0-9._%+-]+@ex\.co\.kr`, TokenEmail),
		literalRule("email_address", PersonalContactBlock,
			rawEmail, TokenEmail),

		// Name with title, already tokenized contacts first
		staffRule("staff_token_contact_email",
			`\s*\(\s*`+tokContact+`\s*,?\s*`+tokEmail+`\s*\)`,
			staffBlock(TokenContact, TokenEmail)),
		staffRule("staff_token_email_contact",
			`\s*\(\s*`+tokEmail+`\s*,?\s*`+tokContact+`\s*\)`,
			staffBlock(TokenContact, TokenEmail)),
		staffRule("staff_token_contact",
			`\s*\(\s*`+tokContact+`\s*\)`,
			staffBlock(TokenContact)),
		staffRule("staff_token_email",
			`\s*\(\s*`+tokEmail+`\s*\)`,
			staffBlock(TokenEmail)),
		staffRule("staff_raw_phone_email",
			`\s*\(\s*`+rawPhone+`\s*,?\s*`+rawEmail+`\s*\)`,
			staffBlock(TokenContact, TokenEmail)),
		staffRule("staff_raw_email_phone",
			`\s*\(\s*`+rawEmail+`\s*,?\s*`+rawPhone+`\s*\)`,
			staffBlock(TokenContact, TokenEmail)),
		staffRule("staff_raw_phone",
			`\s*\(\s*`+rawPhone+`\s*\)`,
			staffBlock(TokenContact)),
		staffRule("staff_raw_email",
			`\s*\(\s*`+rawEmail+`\s*\)`,
			staffBlock(TokenEmail)),
		func() DetectionRule {
			r := staffRule("staff_title_only", "", staffBlock())
			r.NotFollowedBy = followedByParen
			return r
		}(),

		// Bare personal names in self-introduction idioms
		nameRule("self_intro_name_is",
			`(?:제|내)\s*이름은\s*([가-힣]{2,4})(?:이고|입니다|이며)`, false),
		nameRule("self_intro_i_am",
			`저는\s*([가-힣]{2,4})(?:입니다|이고|이며)`, false),
		nameRule("called_name",
			`([가-힣]{2,4}?)(?:라고|이라고)\s*합니다`, true),
		nameRule("reporter_name",
			`(?:신고자|문의자|민원인)\s*(?:이름|성명)\s*:\s*([가-힣]{2,4})`, false),
		nameRule("name_with_contact",
			`([가-힣]{2,4})\s*\(\s*(?:`+tokContact+`|0[0-9-]+)\s*\)`, true),

		// Vehicle registration numbers, regional prefix first
		literalRule("vehicle_plate_regional", VehiclePlate,
			`(?:`+plateRegions+`)\d{2}[가-힣]\d{4}`, TokenVehiclePlate),
		literalRule("vehicle_plate", VehiclePlate,
			`\d{2,3}[가-힣]\d{4}`, TokenVehiclePlate),
	)
}
