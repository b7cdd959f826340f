package command

import (
	"context"
	"encoding/json"

	"github.com/pavelanni/qbank/internal/i18n"
	"github.com/pavelanni/qbank/internal/model"
)

type idArgs struct {
	ID int64 `json:"id"`
}

type idsArgs struct {
	IDs []int64 `json:"ids"`
}

type saveQuestionArgs struct {
	Text       string  `json:"text"`
	Image      string  `json:"image"`
	Base64     string  `json:"base64"`
	PDF        string  `json:"pdf"`
	Page       int     `json:"page"`
	Difficulty *int    `json:"difficulty"`
	Topic      *string `json:"topic"`
}

func (d *Dispatcher) saveQuestion(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[saveQuestionArgs](raw)
	if err != nil {
		return nil, err
	}
	return d.store.InsertQuestion(model.Question{
		Text:        a.Text,
		ImagePath:   a.Image,
		ImageBase64: a.Base64,
		SourcePDF:   a.PDF,
		PageNumber:  a.Page,
		Difficulty:  deref(a.Difficulty),
		Topic:       deref(a.Topic),
	})
}

func (d *Dispatcher) listQuestions(_ context.Context, _ json.RawMessage) (any, error) {
	return d.store.ListQuestions()
}

type paginatedArgs struct {
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	Search     string  `json:"search"`
	Topic      *string `json:"topic"`
	Difficulty *int    `json:"difficulty"`
	StudentID  *int64  `json:"studentId"`
}

func (d *Dispatcher) listQuestionsPaginated(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[paginatedArgs](raw)
	if err != nil {
		return nil, err
	}
	return d.store.ListQuestionsPage(model.QuestionFilter{
		Search:          a.Search,
		Topic:           deref(a.Topic),
		Difficulty:      deref(a.Difficulty),
		ExcludeSolvedBy: deref(a.StudentID),
	}, a.Page, a.Limit)
}

func (d *Dispatcher) getQuestionsByIDs(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[idsArgs](raw)
	if err != nil {
		return nil, err
	}
	return d.store.GetQuestionsByIDs(a.IDs)
}

func (d *Dispatcher) deleteQuestion(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[idArgs](raw)
	if err != nil {
		return nil, err
	}
	return nil, d.store.DeleteQuestion(a.ID)
}

func (d *Dispatcher) deleteQuestions(ctx context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[idsArgs](raw)
	if err != nil {
		return nil, err
	}
	n, err := d.store.DeleteQuestions(a.IDs)
	if err != nil {
		return nil, err
	}
	return deleteResult{Deleted: n, Message: i18n.Tp(ctx, "QuestionsDeleted", int(n))}, nil
}

type deleteResult struct {
	Deleted int64  `json:"deleted"`
	Message string `json:"message"`
}

func (d *Dispatcher) getTopics(_ context.Context, _ json.RawMessage) (any, error) {
	return d.store.ListDistinctTopics()
}

type generateTestArgs struct {
	Topic      *string `json:"topic"`
	Difficulty *int    `json:"difficulty"`
	Count      int     `json:"count"`
	StudentID  *int64  `json:"studentId"`
}

func (d *Dispatcher) generateTest(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[generateTestArgs](raw)
	if err != nil {
		return nil, err
	}
	return d.store.RandomQuestions(model.QuestionFilter{
		Topic:           deref(a.Topic),
		Difficulty:      deref(a.Difficulty),
		ExcludeSolvedBy: deref(a.StudentID),
	}, a.Count)
}

type templateArgs struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Preview string `json:"preview"`
	Margins string `json:"margins"`
}

func (d *Dispatcher) saveTemplate(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[templateArgs](raw)
	if err != nil {
		return nil, err
	}
	return d.store.CreateTemplate(model.Template{
		Name:         a.Name,
		Path:         a.Path,
		PreviewImage: a.Preview,
		MarginsJSON:  a.Margins,
	})
}

func (d *Dispatcher) listTemplates(_ context.Context, _ json.RawMessage) (any, error) {
	return d.store.ListTemplates()
}

func (d *Dispatcher) deleteTemplate(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[idArgs](raw)
	if err != nil {
		return nil, err
	}
	return nil, d.store.DeleteTemplate(a.ID)
}

func (d *Dispatcher) updateTemplate(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[templateArgs](raw)
	if err != nil {
		return nil, err
	}
	return nil, d.store.UpdateTemplate(a.ID, a.Name, a.Margins)
}

type studentArgs struct {
	Name string `json:"name"`
}

func (d *Dispatcher) addStudent(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[studentArgs](raw)
	if err != nil {
		return nil, err
	}
	return d.store.CreateStudent(a.Name)
}

func (d *Dispatcher) listStudents(_ context.Context, _ json.RawMessage) (any, error) {
	return d.store.ListStudents()
}

func (d *Dispatcher) deleteStudent(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[idArgs](raw)
	if err != nil {
		return nil, err
	}
	return nil, d.store.DeleteStudent(a.ID)
}

type testRecordArgs struct {
	StudentID   *int64  `json:"studentId"`
	QuestionIDs []int64 `json:"questionIds"`
}

func (d *Dispatcher) markTestSolved(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[testRecordArgs](raw)
	if err != nil {
		return nil, err
	}
	if a.StudentID == nil {
		return nil, badRequest("studentId is required")
	}
	return nil, d.store.MarkSolved(*a.StudentID, a.QuestionIDs)
}

func (d *Dispatcher) saveTestRecord(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[testRecordArgs](raw)
	if err != nil {
		return nil, err
	}
	return d.store.CreateTest(deref(a.StudentID), a.QuestionIDs)
}

func (d *Dispatcher) listTests(_ context.Context, _ json.RawMessage) (any, error) {
	return d.store.ListTests()
}

type testIDArgs struct {
	TestID int64 `json:"testId"`
}

func (d *Dispatcher) getTestQuestions(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[testIDArgs](raw)
	if err != nil {
		return nil, err
	}
	return d.store.GetTestQuestions(a.TestID)
}

func (d *Dispatcher) deleteTest(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[idArgs](raw)
	if err != nil {
		return nil, err
	}
	return nil, d.store.DeleteTest(a.ID)
}

type settingArgs struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (d *Dispatcher) getSetting(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[settingArgs](raw)
	if err != nil {
		return nil, err
	}
	if a.Key == "" {
		return nil, badRequest("key is required")
	}
	v, ok, err := d.store.GetSetting(a.Key)
	if err != nil || !ok {
		return nil, err
	}
	return v, nil
}

func (d *Dispatcher) saveSetting(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[settingArgs](raw)
	if err != nil {
		return nil, err
	}
	if a.Key == "" {
		return nil, badRequest("key is required")
	}
	return nil, d.store.SetSetting(a.Key, a.Value)
}
