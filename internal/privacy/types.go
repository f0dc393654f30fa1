package privacy

import "regexp"

// Category groups detection rules. Categories are applied in declaration order.
type Category int

const (
	OrgContactBlock Category = iota
	PersonalContactBlock
	NameTitleCombination
	BarePersonalName
	VehiclePlate
)

// Categories returns every category in mandatory processing order.
func Categories() []Category {
	return []Category{
		OrgContactBlock,
		PersonalContactBlock,
		NameTitleCombination,
		BarePersonalName,
		VehiclePlate,
	}
}

func (c Category) String() string {
	switch c {
	case OrgContactBlock:
		return "org_contact_block"
	case PersonalContactBlock:
		return "personal_contact_block"
	case NameTitleCombination:
		return "name_title_combination"
	case BarePersonalName:
		return "bare_personal_name"
	case VehiclePlate:
		return "vehicle_plate"
	default:
		return "unknown"
	}
}

// Token is a canonical redaction placeholder.
type Token string

const (
	TokenStaffName         Token = "[담당자명]"
	TokenContact           Token = "[연락처]"
	TokenEmail             Token = "[이메일주소]"
	TokenVehiclePlate      Token = "[차량번호]"
	TokenOrgContactBlock   Token = "[기관연락처정보]"
	TokenStaffContactBlock Token = "[담당자연락처정보]"
	TokenName              Token = "[이름]"
)

// Tokens returns the full token enumeration.
func Tokens() []Token {
	return []Token{
		TokenStaffName,
		TokenContact,
		TokenEmail,
		TokenVehiclePlate,
		TokenOrgContactBlock,
		TokenStaffContactBlock,
		TokenName,
	}
}

// Kind is the tier-agnostic entity kind.
type Kind string

const (
	KindPerson  Kind = "PERSON"
	KindPhone   Kind = "PHONE"
	KindEmail   Kind = "EMAIL"
	KindVehicle Kind = "VEHICLE"
	KindOrg     Kind = "ORG"
)

// Token returns the canonical token that replaces an entity of this kind.
func (k Kind) Token() Token {
	switch k {
	case KindPerson:
		return TokenName
	case KindPhone:
		return TokenContact
	case KindEmail:
		return TokenEmail
	case KindVehicle:
		return TokenVehiclePlate
	case KindOrg:
		return TokenOrgContactBlock
	default:
		return ""
	}
}

// ParseKind maps a type label to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindPerson, KindPhone, KindEmail, KindVehicle, KindOrg:
		return Kind(s), true
	}
	return "", false
}

// Source identifies which tier produced an entity.
type Source string

const (
	SourceRemote      Source = "REMOTE"
	SourceRegex       Source = "REGEX"
	SourceStatistical Source = "STATISTICAL"
)

// Entity is a single detection. Start and End are byte offsets into the text
// the producing tier looked at, or -1 when the tier works on literal text.
type Entity struct {
	Kind       Kind    `json:"kind"`
	Text       string  `json:"-"` // never serialize matched PII
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
	// Token overrides the kind's default token, e.g. staff names.
	Token Token `json:"token,omitempty"`
}

// Replacement returns the token that replaces e.
func (e Entity) Replacement() Token {
	if e.Token != "" {
		return e.Token
	}
	return e.Kind.Token()
}

// Match is one regexp match handed to a Transform.
type Match struct {
	Text   string
	Groups []string
	spans  [][2]int // relative to Text, -1 when the group did not participate
}

// Group returns capture group i, or "" when it did not participate.
func (m Match) Group(i int) string {
	if i < 0 || i >= len(m.Groups) {
		return ""
	}
	return m.Groups[i]
}

// ReplaceGroup returns the matched text with capture group i swapped for s.
func (m Match) ReplaceGroup(i int, s string) string {
	if i < 0 || i >= len(m.spans) || m.spans[i][0] < 0 {
		return m.Text
	}
	sp := m.spans[i]
	return m.Text[:sp[0]] + s + m.Text[sp[1]:]
}

// ReplacementKind tags a Replacement.
type ReplacementKind int

const (
	ReplaceLiteral ReplacementKind = iota
	ReplaceTransform
)

// Replacement is either a literal token or a capture-aware transform.
type Replacement struct {
	kind  ReplacementKind
	token Token
	fn    func(Match) string
}

// Literal replaces the whole match with token.
func Literal(token Token) Replacement {
	return Replacement{kind: ReplaceLiteral, token: token}
}

// Transform computes the replacement from the match.
func Transform(fn func(Match) string) Replacement {
	return Replacement{kind: ReplaceTransform, fn: fn}
}

// Kind reports which variant r holds.
func (r Replacement) Kind() ReplacementKind { return r.kind }

// Apply returns the text that replaces m.
func (r Replacement) Apply(m Match) string {
	switch r.kind {
	case ReplaceLiteral:
		return string(r.token)
	case ReplaceTransform:
		if r.fn == nil {
			return m.Text
		}
		return r.fn(m)
	default:
		return m.Text
	}
}

// DetectionRule pairs a pattern with its replacement.
type DetectionRule struct {
	Name        string
	Category    Category
	Pattern     *regexp.Regexp
	Replacement Replacement

	// Guarded rules skip a match whose first capture group is protected vocabulary.
	Guarded bool
	// WordStart rules skip a match whose first capture group opens the match
	// right after another Hangul syllable.
	WordStart bool
	// NotFollowedBy skips a match when the text after it matches this anchored pattern.
	NotFollowedBy *regexp.Regexp
}

// filtered reports whether the rule needs per-match inspection.
func (r DetectionRule) filtered() bool {
	return r.Guarded || r.WordStart || r.NotFollowedBy != nil || r.Replacement.kind != ReplaceLiteral
}
