package intent

import (
	"regexp"

	mimir "github.com/user/mimir"
)

// Structural signals. Queries are normalized (lowercase, collapsed
// whitespace) before matching, so only lowercase forms appear here.
var aggregationSignals = []string{
	"평균", "합계", "총액", "총 ", "개수", "건수", "최대", "최소", "분포",
	"average", "avg", "sum", "count", "total", "max", "min", "group by",
	"how many", "별 ", "per region", "by region", "by product", "by month",
}

var joinSignals = []string{
	"메모와", "메모도", "상품과", "상품별", "함께", "각각의",
	"with their", "and their", "along with", "including their",
	"고객별 메모", "customer memos", "memos of",
}

var filterSignals = []string{
	"이상", "이하", "초과", "미만", "부터", "까지", "사이", "보다",
	"greater than", "less than", "more than", "at least", "at most",
	"between", "over ", "under ", "since", "before", "after", "최근",
	"recent", "지난", "last ",
}

type entityPattern struct {
	kind string
	re   *regexp.Regexp
	// group is the capture group holding the entity value; 0 takes the
	// whole match.
	group int
}

var entityPatterns = []entityPattern{
	// Korean person names marked by a following 고객/님/씨 or a preceding
	// "named"/"이름이" marker.
	{mimir.EntityCustomerName, regexp.MustCompile(`([가-힣]{2,4})\s*(?:고객|님|씨)(?:\s|$|의)`), 1},
	{mimir.EntityCustomerName, regexp.MustCompile(`(?:named|이름이|이름은)\s+([가-힣a-z]{2,20})`), 1},
	{mimir.EntityCustomerName, regexp.MustCompile(`"([^"]{1,40})"`), 1},

	// Dates: ISO, Korean absolute and relative forms.
	{mimir.EntityDate, regexp.MustCompile(`\d{4}-\d{2}-\d{2}`), 0},
	{mimir.EntityDate, regexp.MustCompile(`\d{4}년(?:\s*\d{1,2}월)?(?:\s*\d{1,2}일)?`), 0},
	{mimir.EntityDate, regexp.MustCompile(`\d+\s*(?:일|주|개월|달)\s*전`), 0},
	{mimir.EntityDate, regexp.MustCompile(`오늘|어제|그저께|이번\s*주|지난\s*주|이번\s*달|지난\s*달|올해|작년`), 0},
	{mimir.EntityDate, regexp.MustCompile(`today|yesterday|this\s+(?:week|month|year)|last\s+(?:week|month|year)`), 0},

	// Product names: insurance/finance product suffixes.
	{mimir.EntityProductName, regexp.MustCompile(`([가-힣a-z0-9]+\s*(?:보험|연금|저축|적금|플랜|펀드))`), 1},
	{mimir.EntityProductName, regexp.MustCompile(`([a-z][a-z0-9 ]{1,30}?)\s+(?:insurance|plan|policy)`), 1},

	// Amounts with currency units or comparison suffixes.
	{mimir.EntityAmount, regexp.MustCompile(`\d[\d,]*\s*(?:원|만원|억|달러)`), 0},
	{mimir.EntityAmount, regexp.MustCompile(`(?:\$|usd|krw)\s*\d[\d,.]*`), 0},
	{mimir.EntityAmount, regexp.MustCompile(`\d[\d,]*\s*(?:이상|이하|초과|미만)`), 0},

	// Korean administrative regions.
	{mimir.EntityLocation, regexp.MustCompile(`([가-힣]{1,8}(?:특별시|광역시|시|도|구|군|동|읍|면))(?:\s|$|에)`), 1},
	{mimir.EntityLocation, regexp.MustCompile(`서울|부산|대구|인천|광주|대전|울산|세종|제주`), 0},
}

func extractEntities(query string) map[string][]string {
	entities := make(map[string][]string)
	seen := make(map[string]map[string]bool)

	for _, p := range entityPatterns {
		for _, m := range p.re.FindAllStringSubmatch(query, -1) {
			val := m[p.group]
			if val == "" {
				continue
			}
			if seen[p.kind] == nil {
				seen[p.kind] = make(map[string]bool)
			}
			if seen[p.kind][val] {
				continue
			}
			seen[p.kind][val] = true
			entities[p.kind] = append(entities[p.kind], val)
		}
	}
	return entities
}
