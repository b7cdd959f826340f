package store

import (
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/qbank/internal/model"
	"github.com/pavelanni/qbank/internal/secret"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// tickingClock returns a clock that advances one second per call.
func tickingClock(start time.Time) func() time.Time {
	cur := start
	return func() time.Time {
		cur = cur.Add(time.Second)
		return cur
	}
}

func insertTestQuestion(t *testing.T, s *Store, text, topic string, difficulty int) int64 {
	t.Helper()
	id, err := s.InsertQuestion(model.Question{
		Text:       text,
		ImagePath:  "/tmp/" + text + ".png",
		SourcePDF:  "exam.pdf",
		PageNumber: 1,
		Difficulty: difficulty,
		Topic:      topic,
	})
	if err != nil {
		t.Fatalf("insertTestQuestion: %v", err)
	}
	return id
}

func createTestStudent(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	id, err := s.CreateStudent(name)
	if err != nil {
		t.Fatalf("createTestStudent: %v", err)
	}
	return id
}

func countRows(t *testing.T, s *Store, query string, args ...any) int {
	t.Helper()
	var n int
	err := s.conn.Do(func(db querier) error {
		return db.QueryRow(query, args...).Scan(&n)
	})
	if err != nil {
		t.Fatalf("countRows(%q): %v", query, err)
	}
	return n
}

func ids(qs []model.Question) []int64 {
	out := make([]int64, len(qs))
	for i, q := range qs {
		out[i] = q.ID
	}
	return out
}

func TestQuestionCRUD(t *testing.T) {
	s := newTestStore(t)

	// Empty DB should return zero count and empty list.
	count, err := s.QuestionCount()
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 questions, got %d", count)
	}
	list, err := s.ListQuestions()
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	id := insertTestQuestion(t, s, "What is 2+2?", "arithmetic", 2)
	q, err := s.GetQuestion(id)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.Text != "What is 2+2?" {
		t.Errorf("expected text 'What is 2+2?', got %q", q.Text)
	}
	if q.Difficulty != 2 {
		t.Errorf("expected difficulty 2, got %d", q.Difficulty)
	}
	if q.Topic != "arithmetic" {
		t.Errorf("expected topic 'arithmetic', got %q", q.Topic)
	}
	if q.SourcePDF != "exam.pdf" || q.PageNumber != 1 {
		t.Errorf("unexpected source %q page %d", q.SourcePDF, q.PageNumber)
	}
	if q.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}

	// Not found.
	_, err = s.GetQuestion(9999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	var se *Error
	if !errors.As(err, &se) || se.Op != "get question" {
		t.Errorf("expected *Error with op 'get question', got %v", err)
	}

	if err := s.DeleteQuestion(id); err != nil {
		t.Fatalf("DeleteQuestion: %v", err)
	}
	if err := s.DeleteQuestion(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteQuestion: expected ErrNotFound, got %v", err)
	}
}

func TestInsertQuestionRejectsEmptyText(t *testing.T) {
	s := newTestStore(t)
	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := s.InsertQuestion(model.Question{Text: text})
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("InsertQuestion(%q): expected ErrInvalid, got %v", text, err)
		}
	}
	if n, _ := s.QuestionCount(); n != 0 {
		t.Errorf("expected nothing stored, got %d rows", n)
	}
}

func TestQuestionDefaults(t *testing.T) {
	s := newTestStore(t)
	id := insertTestQuestion(t, s, "No metadata", "", 0)

	q, err := s.GetQuestion(id)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.Difficulty != model.DefaultDifficulty {
		t.Errorf("expected default difficulty %d, got %d", model.DefaultDifficulty, q.Difficulty)
	}
	if q.Topic != "" {
		t.Errorf("expected absent topic, got %q", q.Topic)
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM questions WHERE topic IS NULL`); n != 1 {
		t.Errorf("expected empty topic stored as NULL, got %d NULL rows", n)
	}

	// The same policy applies on every read path.
	all, _ := s.ListQuestions()
	page, _ := s.ListQuestionsPage(model.QuestionFilter{}, 1, 10)
	byID, _ := s.GetQuestionsByIDs([]int64{id})
	random, _ := s.RandomQuestions(model.QuestionFilter{}, 1)
	for name, qs := range map[string][]model.Question{
		"list": all, "page": page.Questions, "by ids": byID, "random": random,
	} {
		if len(qs) != 1 || qs[0].Difficulty != model.DefaultDifficulty || qs[0].Topic != "" {
			t.Errorf("%s: unexpected result %+v", name, qs)
		}
	}
}

func TestFilterScenario(t *testing.T) {
	s := newTestStore(t)
	insertTestQuestion(t, s, "Q1", "algebra", 1)
	insertTestQuestion(t, s, "Q2", "algebra", 2)
	insertTestQuestion(t, s, "Q3", "geometry", 1)

	tests := []struct {
		name      string
		filter    model.QuestionFilter
		wantCount int
	}{
		{"no filter", model.QuestionFilter{}, 3},
		{"by topic", model.QuestionFilter{Topic: "algebra"}, 2},
		{"by topic and difficulty", model.QuestionFilter{Topic: "algebra", Difficulty: 1}, 1},
		{"by difficulty", model.QuestionFilter{Difficulty: 1}, 2},
		{"no match", model.QuestionFilter{Topic: "geometry", Difficulty: 2}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := s.ListQuestionsFiltered(tt.filter)
			if err != nil {
				t.Fatalf("ListQuestionsFiltered: %v", err)
			}
			if len(qs) != tt.wantCount {
				t.Errorf("expected %d questions, got %d", tt.wantCount, len(qs))
			}
			page, err := s.ListQuestionsPage(tt.filter, 1, 10)
			if err != nil {
				t.Fatalf("ListQuestionsPage: %v", err)
			}
			if page.Total != tt.wantCount {
				t.Errorf("expected total %d, got %d", tt.wantCount, page.Total)
			}
		})
	}

	topics, err := s.ListDistinctTopics()
	if err != nil {
		t.Fatalf("ListDistinctTopics: %v", err)
	}
	if len(topics) != 2 || topics[0] != "algebra" || topics[1] != "geometry" {
		t.Errorf("expected [algebra geometry], got %v", topics)
	}
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	insertTestQuestion(t, s, "Solve for X", "Algebra", 1)
	insertTestQuestion(t, s, "Find the angle", "geometry", 1)
	insertTestQuestion(t, s, "Discount of 100% off", "percent", 1)
	insertTestQuestion(t, s, "Value of 1000", "numbers", 1)
	insertTestQuestion(t, s, "snake_case name", "naming", 1)
	insertTestQuestion(t, s, "snakeXcase name", "naming", 1)

	tests := []struct {
		name   string
		search string
		want   int
	}{
		{"text case-insensitive", "solve", 1},
		{"topic match", "GEOMETRY", 1},
		{"matches text or topic", "algebra", 1},
		{"percent is literal", "100%", 1},
		{"underscore is literal", "snake_case", 1},
		{"no match", "calculus", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := s.ListQuestionsFiltered(model.QuestionFilter{Search: tt.search})
			if err != nil {
				t.Fatalf("ListQuestionsFiltered: %v", err)
			}
			if len(qs) != tt.want {
				t.Errorf("search %q: expected %d, got %d", tt.search, tt.want, len(qs))
			}
		})
	}
}

func TestPaginationCoversFullListing(t *testing.T) {
	s := newTestStore(t)
	s.now = tickingClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	for i := range 11 {
		topic := "even"
		if i%2 == 1 {
			topic = "odd"
		}
		insertTestQuestion(t, s, "question "+string(rune('a'+i)), topic, i%3+1)
	}
	student := createTestStudent(t, s, "Ada")
	all, _ := s.ListQuestions()
	if err := s.MarkSolved(student, []int64{all[0].ID, all[3].ID}); err != nil {
		t.Fatalf("MarkSolved: %v", err)
	}

	filters := []model.QuestionFilter{
		{},
		{Topic: "even"},
		{Difficulty: 2},
		{Search: "question"},
		{ExcludeSolvedBy: student},
		{Topic: "odd", ExcludeSolvedBy: student},
	}
	for _, f := range filters {
		full, err := s.ListQuestionsFiltered(f)
		if err != nil {
			t.Fatalf("ListQuestionsFiltered(%+v): %v", f, err)
		}
		for _, limit := range []int{1, 2, 3, 4, 20} {
			var union []int64
			for page := 1; ; page++ {
				p, err := s.ListQuestionsPage(f, page, limit)
				if err != nil {
					t.Fatalf("ListQuestionsPage: %v", err)
				}
				if p.Total != len(full) {
					t.Errorf("filter %+v: total %d, want %d", f, p.Total, len(full))
				}
				if len(p.Questions) == 0 {
					break
				}
				union = append(union, ids(p.Questions)...)
			}
			want := ids(full)
			if len(union) != len(want) {
				t.Fatalf("filter %+v limit %d: got %d rows across pages, want %d", f, limit, len(union), len(want))
			}
			for i := range want {
				if union[i] != want[i] {
					t.Errorf("filter %+v limit %d: row %d is %d, want %d", f, limit, i, union[i], want[i])
				}
			}
		}
	}

	// Newest first.
	if all[0].Text != "question k" {
		t.Errorf("expected newest question first, got %q", all[0].Text)
	}
}

func TestPageNormalization(t *testing.T) {
	s := newTestStore(t)
	for i := range 25 {
		insertTestQuestion(t, s, "q"+string(rune('a'+i)), "", 1)
	}
	p, err := s.ListQuestionsPage(model.QuestionFilter{}, 0, 0)
	if err != nil {
		t.Fatalf("ListQuestionsPage: %v", err)
	}
	if len(p.Questions) != DefaultPageSize || p.Total != 25 {
		t.Errorf("expected %d rows of 25, got %d of %d", DefaultPageSize, len(p.Questions), p.Total)
	}
	p, _ = s.ListQuestionsPage(model.QuestionFilter{}, 99, 10)
	if len(p.Questions) != 0 || p.Total != 25 {
		t.Errorf("expected empty page past the end, got %d rows total %d", len(p.Questions), p.Total)
	}
}

func TestRandomQuestions(t *testing.T) {
	s := newTestStore(t)
	var algebra []int64
	for i := range 6 {
		algebra = append(algebra, insertTestQuestion(t, s, "alg "+string(rune('a'+i)), "algebra", 1+i%2))
	}
	insertTestQuestion(t, s, "geo", "geometry", 1)
	student := createTestStudent(t, s, "Ada")
	if err := s.MarkSolved(student, algebra[:2]); err != nil {
		t.Fatalf("MarkSolved: %v", err)
	}
	solved := map[int64]bool{algebra[0]: true, algebra[1]: true}

	tests := []struct {
		name   string
		filter model.QuestionFilter
		count  int
		want   int
	}{
		{"fewer than pool", model.QuestionFilter{Topic: "algebra"}, 4, 4},
		{"more than pool", model.QuestionFilter{Topic: "algebra"}, 50, 6},
		{"difficulty", model.QuestionFilter{Topic: "algebra", Difficulty: 2}, 10, 3},
		{"excluding solved", model.QuestionFilter{Topic: "algebra", ExcludeSolvedBy: student}, 10, 4},
		{"zero count", model.QuestionFilter{}, 0, 0},
		{"negative count", model.QuestionFilter{}, -3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := s.RandomQuestions(tt.filter, tt.count)
			if err != nil {
				t.Fatalf("RandomQuestions: %v", err)
			}
			if len(qs) != tt.want {
				t.Fatalf("expected %d questions, got %d", tt.want, len(qs))
			}
			seen := make(map[int64]bool)
			for _, q := range qs {
				if seen[q.ID] {
					t.Errorf("duplicate id %d", q.ID)
				}
				seen[q.ID] = true
				if tt.filter.Topic != "" && q.Topic != tt.filter.Topic {
					t.Errorf("question %d has topic %q", q.ID, q.Topic)
				}
				if tt.filter.Difficulty != 0 && q.Difficulty != tt.filter.Difficulty {
					t.Errorf("question %d has difficulty %d", q.ID, q.Difficulty)
				}
				if tt.filter.ExcludeSolvedBy != 0 && solved[q.ID] {
					t.Errorf("question %d was already solved", q.ID)
				}
			}
		})
	}
}

func TestGetAndDeleteByIDs(t *testing.T) {
	s := newTestStore(t)
	a := insertTestQuestion(t, s, "A", "", 1)
	b := insertTestQuestion(t, s, "B", "", 1)
	c := insertTestQuestion(t, s, "C", "", 1)

	got, err := s.GetQuestionsByIDs(nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("GetQuestionsByIDs(nil) = %v, %v; want empty", got, err)
	}
	got, err = s.GetQuestionsByIDs([]int64{a, c, 9999})
	if err != nil {
		t.Fatalf("GetQuestionsByIDs: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 questions, got %d", len(got))
	}

	n, err := s.DeleteQuestions([]int64{})
	if err != nil || n != 0 {
		t.Errorf("DeleteQuestions(empty) = %d, %v", n, err)
	}
	n, err = s.DeleteQuestions([]int64{a, b})
	if err != nil {
		t.Fatalf("DeleteQuestions: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	left, _ := s.ListQuestions()
	if len(left) != 1 || left[0].ID != c {
		t.Errorf("expected only %d left, got %v", c, ids(left))
	}
}

func TestMarkSolvedIdempotent(t *testing.T) {
	s := newTestStore(t)
	q := insertTestQuestion(t, s, "Q", "", 1)
	st := createTestStudent(t, s, "Ada")

	for range 2 {
		if err := s.MarkSolved(st, []int64{q, q}); err != nil {
			t.Fatalf("MarkSolved: %v", err)
		}
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM student_solved_questions WHERE student_id = ?`, st); n != 1 {
		t.Errorf("expected 1 solved row, got %d", n)
	}
	solved, err := s.SolvedQuestionIDs(st)
	if err != nil {
		t.Fatalf("SolvedQuestionIDs: %v", err)
	}
	if len(solved) != 1 || solved[0] != q {
		t.Errorf("expected [%d], got %v", q, solved)
	}

	// A missing question fails the whole batch.
	other := insertTestQuestion(t, s, "Other", "", 1)
	if err := s.MarkSolved(st, []int64{other, 9999}); err == nil {
		t.Error("expected error for unknown question")
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM student_solved_questions`); n != 1 {
		t.Errorf("expected batch rolled back, got %d rows", n)
	}
}

func TestDeleteQuestionCascades(t *testing.T) {
	s := newTestStore(t)
	q1 := insertTestQuestion(t, s, "Q1", "", 1)
	q2 := insertTestQuestion(t, s, "Q2", "", 1)
	st := createTestStudent(t, s, "Ada")
	if err := s.MarkSolved(st, []int64{q1, q2}); err != nil {
		t.Fatalf("MarkSolved: %v", err)
	}
	testID, err := s.CreateTest(st, []int64{q1, q2})
	if err != nil {
		t.Fatalf("CreateTest: %v", err)
	}

	if err := s.DeleteQuestion(q1); err != nil {
		t.Fatalf("DeleteQuestion: %v", err)
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM student_solved_questions WHERE question_id = ?`, q1); n != 0 {
		t.Errorf("expected solved rows removed, got %d", n)
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM test_questions WHERE question_id = ?`, q1); n != 0 {
		t.Errorf("expected memberships removed, got %d", n)
	}
	members, err := s.GetTestQuestions(testID)
	if err != nil {
		t.Fatalf("GetTestQuestions: %v", err)
	}
	if len(members) != 1 || members[0].ID != q2 {
		t.Errorf("expected only %d left in test, got %v", q2, ids(members))
	}
}

func TestTestHistoryScenario(t *testing.T) {
	s := newTestStore(t)
	q1 := insertTestQuestion(t, s, "Q1", "", 1)
	q2 := insertTestQuestion(t, s, "Q2", "", 1)
	ada := createTestStudent(t, s, "Ada")

	testID, err := s.CreateTest(ada, []int64{q1, q2})
	if err != nil {
		t.Fatalf("CreateTest: %v", err)
	}

	tests, err := s.ListTests()
	if err != nil {
		t.Fatalf("ListTests: %v", err)
	}
	if len(tests) != 1 {
		t.Fatalf("expected 1 test, got %d", len(tests))
	}
	if tests[0].ID != testID || tests[0].QuestionCount != 2 {
		t.Errorf("unexpected summary %+v", tests[0])
	}
	if tests[0].StudentName == nil || *tests[0].StudentName != "Ada" {
		t.Errorf("expected student name Ada, got %v", tests[0].StudentName)
	}

	if err := s.DeleteStudent(ada); err != nil {
		t.Fatalf("DeleteStudent: %v", err)
	}
	tests, err = s.ListTests()
	if err != nil {
		t.Fatalf("ListTests: %v", err)
	}
	if len(tests) != 1 {
		t.Fatalf("expected test kept after student delete, got %d", len(tests))
	}
	if tests[0].StudentName != nil {
		t.Errorf("expected no student name, got %q", *tests[0].StudentName)
	}
	if tests[0].QuestionCount != 2 {
		t.Errorf("expected count 2, got %d", tests[0].QuestionCount)
	}
	got, _ := s.GetTest(testID)
	if got.StudentID != nil {
		t.Errorf("expected owner cleared, got %d", *got.StudentID)
	}
}

func TestCreateTest(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local) }
	q1 := insertTestQuestion(t, s, "Q1", "", 1)
	q2 := insertTestQuestion(t, s, "Q2", "", 1)
	q3 := insertTestQuestion(t, s, "Q3", "", 1)

	id, err := s.CreateTest(0, []int64{q3, q1, q2})
	if err != nil {
		t.Fatalf("CreateTest: %v", err)
	}
	tt, err := s.GetTest(id)
	if err != nil {
		t.Fatalf("GetTest: %v", err)
	}
	if tt.Name != "Test - 2026-03-04 05:06" {
		t.Errorf("unexpected name %q", tt.Name)
	}
	if tt.StudentID != nil {
		t.Errorf("expected no owner, got %d", *tt.StudentID)
	}
	members, _ := s.GetTestQuestions(id)
	got := ids(members)
	if len(got) != 3 || got[0] != q3 || got[1] != q1 || got[2] != q2 {
		t.Errorf("expected members in insertion order [%d %d %d], got %v", q3, q1, q2, got)
	}

	// A bad question id rolls back the whole test.
	if _, err := s.CreateTest(0, []int64{q1, 9999}); err == nil {
		t.Error("expected error for unknown question")
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM tests`); n != 1 {
		t.Errorf("expected 1 test after rollback, got %d", n)
	}

	if err := s.DeleteTest(id); err != nil {
		t.Fatalf("DeleteTest: %v", err)
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM test_questions`); n != 0 {
		t.Errorf("expected memberships removed, got %d", n)
	}
	if _, err := s.GetTest(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAnswerKeyWriteOnce(t *testing.T) {
	s := newTestStore(t)
	q := insertTestQuestion(t, s, "Q", "", 1)
	id, _ := s.CreateTest(0, []int64{q})

	key, ok, err := s.GetAnswerKey(id)
	if err != nil || ok || key != "" {
		t.Fatalf("GetAnswerKey before save = %q, %v, %v", key, ok, err)
	}

	stored, err := s.SaveAnswerKey(id, `{"answers":[{"q_num":1,"answer":"A"}]}`)
	if err != nil {
		t.Fatalf("SaveAnswerKey: %v", err)
	}
	if stored != `{"answers":[{"q_num":1,"answer":"A"}]}` {
		t.Errorf("unexpected stored key %q", stored)
	}

	stored, err = s.SaveAnswerKey(id, `{"answers":[{"q_num":1,"answer":"B"}]}`)
	if err != nil {
		t.Fatalf("second SaveAnswerKey: %v", err)
	}
	if !strings.Contains(stored, `"A"`) {
		t.Errorf("expected first key kept, got %q", stored)
	}
	key, ok, _ = s.GetAnswerKey(id)
	if !ok || !strings.Contains(key, `"A"`) {
		t.Errorf("expected cached key with A, got %q", key)
	}

	if _, err := s.SaveAnswerKey(id, ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for empty key, got %v", err)
	}
	if _, _, err := s.GetAnswerKey(9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.SaveAnswerKey(9999, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStudents(t *testing.T) {
	s := newTestStore(t)
	createTestStudent(t, s, "Zeynep")
	createTestStudent(t, s, "Ada")

	_, err := s.CreateStudent("Ada")
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if _, err := s.CreateStudent(" "); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}

	list, err := s.ListStudents()
	if err != nil {
		t.Fatalf("ListStudents: %v", err)
	}
	if len(list) != 2 || list[0].Name != "Ada" || list[1].Name != "Zeynep" {
		t.Errorf("expected [Ada Zeynep], got %+v", list)
	}
	if err := s.DeleteStudent(9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTemplates(t *testing.T) {
	s := newTestStore(t)
	s.now = tickingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	first, err := s.CreateTemplate(model.Template{
		Name: "A4", Path: "/tpl/a4.pdf", PreviewImage: "data:image/jpeg;base64,AAA",
		MarginsJSON: `{"top":50,"bottom":950,"left":50,"right":950}`,
	})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	second, err := s.CreateTemplate(model.Template{
		Name: "Letter", Path: "/tpl/letter.pdf", MarginsJSON: `{"top":10,"bottom":990,"left":10,"right":990}`,
	})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	if _, err := s.CreateTemplate(model.Template{Name: "bad", MarginsJSON: "{"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for bad margins, got %v", err)
	}

	list, err := s.ListTemplates()
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if len(list) != 2 || list[0].ID != second || list[1].ID != first {
		t.Errorf("expected newest first, got %+v", list)
	}

	if err := s.UpdateTemplate(first, "A4 wide", `{"top":0,"bottom":1000,"left":0,"right":1000}`); err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	got, err := s.GetTemplate(first)
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if got.Name != "A4 wide" || !strings.Contains(got.MarginsJSON, `"bottom":1000`) {
		t.Errorf("update not applied: %+v", got)
	}
	if got.Path != "/tpl/a4.pdf" || got.PreviewImage != "data:image/jpeg;base64,AAA" {
		t.Errorf("update changed path or preview: %+v", got)
	}
	if err := s.UpdateTemplate(9999, "x", `{}`); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.DeleteTemplate(second); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
	if err := s.DeleteTemplate(second); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)

	v, ok, err := s.GetSetting("theme")
	if err != nil || ok || v != "" {
		t.Fatalf("GetSetting(missing) = %q, %v, %v", v, ok, err)
	}
	if err := s.SetSetting("theme", "dark"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting("theme", "light"); err != nil {
		t.Fatalf("SetSetting update: %v", err)
	}
	v, ok, _ = s.GetSetting("theme")
	if !ok || v != "light" {
		t.Errorf("expected light, got %q (found=%v)", v, ok)
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM settings WHERE key = 'theme'`); n != 1 {
		t.Errorf("expected one row after upsert, got %d", n)
	}
}

type b64Sealer struct{}

func (b64Sealer) Seal(p []byte) (string, error) {
	return base64.StdEncoding.EncodeToString(p), nil
}

func (b64Sealer) Open(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func TestSealedSettings(t *testing.T) {
	s := newTestStore(t)

	// Written before a sealer is configured: read back as is.
	if err := s.SetSetting(model.SettingGeminiAPIKey, "legacy-key"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	s.UseSealer(b64Sealer{}, model.SettingGeminiAPIKey)
	v, _, err := s.GetSetting(model.SettingGeminiAPIKey)
	if err != nil || v != "legacy-key" {
		t.Errorf("expected legacy value, got %q (err=%v)", v, err)
	}

	if err := s.SetSetting(model.SettingGeminiAPIKey, "new-key"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM settings WHERE value = 'new-key'`); n != 0 {
		t.Error("expected credential not stored in plain text")
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM settings WHERE value LIKE 'sealed:v1:%'`); n != 1 {
		t.Errorf("expected one marked sealed value, got %d", n)
	}
	v, _, _ = s.GetSetting(model.SettingGeminiAPIKey)
	if v != "new-key" {
		t.Errorf("expected new-key, got %q", v)
	}

	// Other keys stay plain.
	_ = s.SetSetting("theme", "dark")
	if n := countRows(t, s, `SELECT COUNT(*) FROM settings WHERE value = 'dark'`); n != 1 {
		t.Error("expected non-secret setting stored as is")
	}
}

func TestSealedSettingWrongKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.db")
	open := func(t *testing.T, key string) *Store {
		t.Helper()
		s, err := New(path)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if key != "" {
			box, err := secret.New(key)
			if err != nil {
				t.Fatalf("secret.New: %v", err)
			}
			s.UseSealer(box, model.SettingGeminiAPIKey)
		}
		return s
	}

	s := open(t, "alpha")
	if err := s.SetSetting(model.SettingGeminiAPIKey, "real-key"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	s.Close()

	tests := []struct {
		name string
		key  string
	}{
		{"rotated key", "beta"},
		{"no key", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t, tt.key)
			defer s.Close()
			v, ok, err := s.GetSetting(model.SettingGeminiAPIKey)
			if !errors.Is(err, ErrSealed) {
				t.Fatalf("expected ErrSealed, got value=%q ok=%v err=%v", v, ok, err)
			}
			if v != "" {
				t.Errorf("sealed value leaked: %q", v)
			}
		})
	}

	s = open(t, "alpha")
	defer s.Close()
	v, _, err := s.GetSetting(model.SettingGeminiAPIKey)
	if err != nil || v != "real-key" {
		t.Errorf("expected real-key with the original key, got %q (err=%v)", v, err)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.GetImportedFileHash("/some/path.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}
	if err := s.SetImportedFileHash("/some/path.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	hash, _ = s.GetImportedFileHash("/some/path.json")
	if hash != "abc123" {
		t.Errorf("expected 'abc123', got %q", hash)
	}
}

func TestPoisonedConnection(t *testing.T) {
	s := newTestStore(t)
	insertTestQuestion(t, s, "before", "", 1)

	err := s.conn.Do(func(querier) error {
		panic("boom")
	})
	if !errors.Is(err, ErrLockPoisoned) {
		t.Fatalf("expected ErrLockPoisoned from panicking call, got %v", err)
	}
	if !s.conn.Poisoned() {
		t.Error("expected connection marked poisoned")
	}
	if _, err := s.ListQuestions(); !errors.Is(err, ErrLockPoisoned) {
		t.Errorf("expected later calls to fail with ErrLockPoisoned, got %v", err)
	}
}
