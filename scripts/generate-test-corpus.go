//go:build ignore

// Package main generates a synthetic board-post corpus for load testing
// the ingestion and retrieval pipeline without crawling real boards.
// Usage: go run scripts/generate-test-corpus.go -posts 500 -output testdata/corpus
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

var (
	numPosts  = flag.Int("posts", 500, "Number of posts to generate")
	outputDir = flag.String("output", "testdata/corpus", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// post mirrors the crawled-post shape the pipeline ingests.
type post struct {
	BoardType string   `json:"board_type"`
	BoardID   int      `json:"board_id"`
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	Date      string   `json:"date"`
	Content   string   `json:"content"`
	ImageURLs []string `json:"image_urls,omitempty"`
}

var boards = []string{"notice", "job", "seminar"}

var noticeTopics = []string{
	"수강신청 안내", "장학금 신청", "졸업요건 변경", "학위수여식 안내",
	"기말고사 일정", "휴학 신청 기간", "전공 설명회", "학생증 재발급",
}

var jobCompanies = []string{
	"네이버", "카카오", "삼성전자", "LG CNS", "현대자동차", "쿠팡", "토스", "당근",
}

var seminarSpeakers = []string{
	"김교수", "이박사", "박연구원", "최교수", "정박사",
}

var bodySentences = []string{
	"자세한 내용은 첨부파일을 참고하시기 바랍니다.",
	"신청 기간 내에 제출하지 않으면 접수되지 않습니다.",
	"문의사항은 학과 사무실로 연락 바랍니다.",
	"대상: 재학생 전체. 제출 서류는 안내문을 확인하세요.",
	"일정은 사정에 따라 변경될 수 있습니다.",
	"온라인으로만 접수를 받습니다.",
	"선착순 마감되오니 서둘러 신청하시기 바랍니다.",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.FixedZone("KST", 9*60*60))
	for i := 0; i < *numPosts; i++ {
		board := boards[rng.Intn(len(boards))]
		p := post{
			BoardType: board,
			BoardID:   1000 + i,
			Title:     title(rng, board, i),
			URL:       fmt.Sprintf("https://board.example.ac.kr/%s/%d", board, 1000+i),
			Date:      base.AddDate(0, 0, rng.Intn(365)).Format("2006-01-02"),
			Content:   body(rng),
		}
		if rng.Float64() < 0.3 {
			p.ImageURLs = []string{fmt.Sprintf("https://board.example.ac.kr/files/%d.png", 1000+i)}
		}

		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		path := filepath.Join(*outputDir, fmt.Sprintf("%s-%04d.json", board, i))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generated %d posts in %s\n", *numPosts, *outputDir)
}

func title(rng *rand.Rand, board string, n int) string {
	switch board {
	case "job":
		return fmt.Sprintf("[채용] %s 신입/경력 채용 공고 (%d차)", jobCompanies[rng.Intn(len(jobCompanies))], n%5+1)
	case "seminar":
		return fmt.Sprintf("[세미나] %s 초청 강연 안내", seminarSpeakers[rng.Intn(len(seminarSpeakers))])
	default:
		return fmt.Sprintf("[공지] 2025학년도 %s (%d)", noticeTopics[rng.Intn(len(noticeTopics))], n)
	}
}

func body(rng *rand.Rand) string {
	n := 3 + rng.Intn(4)
	out := ""
	for i := 0; i < n; i++ {
		out += bodySentences[rng.Intn(len(bodySentences))] + "\n"
	}
	return out
}
