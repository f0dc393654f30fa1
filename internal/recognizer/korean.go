package recognizer

import (
	"regexp"
	"strings"
)

const staffTitles = `(?:대리|주임|사원|과장|차장|부장|팀장|실장|소장|지사장)`

// DefaultPatternGroups returns the Korean complaint-text recognizers plus
// generic email and phone recognizers.
func DefaultPatternGroups() []PatternGroup {
	return []PatternGroup{
		{
			Name: "korean_staff",
			Kind: PersonName,
			Patterns: []Pattern{
				{Name: "staff_with_title", Regex: regexp.MustCompile(`([가-힣]{2,4})\s*` + staffTitles), Score: 0.9, Group: 1},
				{Name: "staff_contact", Regex: regexp.MustCompile(`담당자\s*([가-힣]{2,4})`), Score: 0.85, Group: 1},
			},
			Context: []string{"담당자", "대리", "과장", "차장", "부장", "팀장"},
		},
		{
			Name: "korean_name",
			Kind: PersonName,
			Patterns: []Pattern{
				{Name: "introduction", Regex: regexp.MustCompile(`(?:제|내)\s*이름은\s*([가-힣]{2,4})(?:이고|입니다|이며)`), Score: 0.95, Group: 1},
				{Name: "self_intro", Regex: regexp.MustCompile(`저는\s*([가-힣]{2,4})(?:입니다|이고|라고)`), Score: 0.9, Group: 1},
				{Name: "reporter", Regex: regexp.MustCompile(`(?:신고자|문의자|민원인|고객|신청자)\s*(?:이름|성명)\s*:?\s*([가-힣]{2,4})`), Score: 0.9, Group: 1},
				{Name: "with_contact", Regex: regexp.MustCompile(`([가-힣]{2,4})\s*[(\[]?\s*0\d{1,2}[-\s]*\d{3,4}[-\s]*\d{4}`), Score: 0.85, Group: 1},
				{Name: "with_title", Regex: regexp.MustCompile(`([가-힣]{2,3})\s*` + staffTitles + `(?:\s|,|\()`), Score: 0.9, Group: 1},
			},
			Context: []string{"이름", "성명", "저는", "제", "연락처", "신고", "문의", "담당자"},
		},
		{
			Name: "korean_contact",
			Kind: ContactNumber,
			Patterns: []Pattern{
				{Name: "phone_dashed", Regex: regexp.MustCompile(`0\d{1,2}-\d{3,4}-\d{4}`), Score: 0.9},
				{Name: "phone_spaced_dash", Regex: regexp.MustCompile(`0\d{1,2}\s*-\s*\d{3,4}\s*-\s*\d{4}`), Score: 0.9},
				{Name: "phone_three_part", Regex: regexp.MustCompile(`\d{3}-\d{3,4}-\d{4}`), Score: 0.8},
			},
			Context: []string{"연락처", "전화", "문의", "연락", "TEL"},
		},
		{
			Name: "organization_info",
			Kind: OrgInfo,
			Patterns: []Pattern{
				{Name: "org_full", Regex: regexp.MustCompile(`한국도로공사\s+[가-힣]+지사\s+[가-힣]+팀\s*\([^)]+\)`), Score: 0.95},
				{Name: "org_contact", Regex: regexp.MustCompile(`한국도로공사\s+[^)]+\([^)]*\d{3}-\d{3,4}-\d{4}[^)]*\)`), Score: 0.9},
				{Name: "org_staff", Regex: regexp.MustCompile(`\([^)]*담당자[^)]*\d{3}-\d{3,4}-\d{4}[^)]*\)`), Score: 0.85},
			},
			Context: []string{"한국도로공사", "담당자", "지사", "팀", "문의하여"},
		},
		{
			Name: "email",
			Kind: Email,
			Patterns: []Pattern{
				{Name: "email_address", Regex: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9-]+(?:\.[a-zA-Z0-9-]+)*\.[a-zA-Z]{2,}`), Score: 1.0, Validate: validEmail},
			},
			Context: []string{"이메일", "메일", "email", "e-mail"},
		},
		{
			Name: "phone",
			Kind: Phone,
			Patterns: []Pattern{
				{Name: "international_kr", Regex: regexp.MustCompile(`\+82[-\s]?\(?0?\d{1,2}\)?[-\s]?\d{3,4}[-\s]?\d{4}`), Score: 0.75, Validate: validPhone},
				{Name: "area_parenthesized", Regex: regexp.MustCompile(`\(0\d{1,2}\)\s?\d{3,4}[-\s]?\d{4}`), Score: 0.7, Validate: validPhone},
				{Name: "representative", Regex: regexp.MustCompile(`1[568]\d{2}-\d{4}`), Score: 0.4, Validate: validPhone},
			},
			Context: []string{"전화", "연락", "대표번호", "콜센터", "tel", "phone"},
		},
	}
}

// NewDefaultPatternRecognizer returns a PatternRecognizer over DefaultPatternGroups.
func NewDefaultPatternRecognizer() *PatternRecognizer {
	return NewPatternRecognizer(DefaultPatternGroups()...)
}

func validEmail(s string) bool {
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return false
	}
	domain := s[at+1:]
	return strings.Contains(domain, ".") && !strings.Contains(domain, "..")
}

func validPhone(s string) bool {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n >= 8 && n <= 13
}
