package vocabulary

// defaultTerms is the built-in domain vocabulary for expressway complaint text.
var defaultTerms = []string{
	// Place and road terms
	"기흥", "시흥", "장수", "서해안", "수도권", "국토교통부", "도시지역",
	"측방여유폭", "유출입", "교통량", "포털", "고속도로", "고속돌",
	"기본구간", "엇갈림", "구간", "도로공사", "도로설계기준",

	// Verb fragments that look like two-syllable names
	"지나", "얻고", "찾아", "제공", "하는지", "몇", "따르는지", "따라",
	"통해", "대한", "해당",

	// Business vocabulary
	"민원", "답변", "감사", "고객", "관련", "안전", "순찰", "목적", "참고",
	"추가", "만족", "서비스", "부탁", "질문", "문의", "요청", "처리", "확인",
	"검토", "조치", "개선", "협조", "이용", "운영", "관리", "점검", "보수",
	"공사", "통행", "요금", "휴게소", "주차", "화장실", "편의", "시설",
	"개통", "폐쇄", "우회",

	// Administrative vocabulary
	"요지", "내용", "사항", "방법", "조건", "기준", "절차", "규정", "계획",
	"방향", "정책", "지침", "원칙", "기본", "상황", "현황", "결과", "효과",
	"영향", "변화", "발전", "진행", "완료",

	// General vocabulary
	"시간", "장소", "지역", "구역", "위치", "거리", "속도", "신호", "표지",
	"안내", "정보", "알림", "공지", "발표", "기간", "일정", "예정", "준비",
	"실시", "시행", "적용",

	// Emotional vocabulary
	"다행", "노력", "최선", "협력", "배려", "이해", "양해", "죄송", "미안",
	"고마", "감동", "기쁘", "좋은", "나쁜", "어려운",

	// Requester roles
	"민원인", "신고자", "문의자", "운전자", "이용자", "직원", "담당자",

	// Contact nouns
	"이름", "성명", "연락처", "전화", "전화번호", "휴대폰", "사무실",
	"대표번호", "콜센터",
}
