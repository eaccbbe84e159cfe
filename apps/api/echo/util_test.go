package echoapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
	"github.com/trezcool/kupanda/core/transition"
	"github.com/trezcool/kupanda/services/email"
	"github.com/trezcool/kupanda/storage/docstore/inmem"
	"github.com/trezcool/kupanda/tests"
)

type fixture struct {
	app   *Server
	store *inmemstore.Store
	mail  *emailsvc.ConsoleServiceMock
}

func setup(t *testing.T) fixture {
	t.Helper()
	conf := core.NewTestConfig()
	logger := testutil.NewLogger()

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	transition.InitValidators(validate, translator)
	core.ParseEmailTemplates(logger)

	store := inmemstore.Open()
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	roster := school.NewRosterService(store, logger)
	engine := transition.NewEngine(store, roster, logger, transition.Options{MailSvc: mailSvc})

	testutil.CreateStandardClasses(t, store, testutil.Session)

	return fixture{
		store: store,
		mail:  mailSvc,
		app: NewServer(ServerDeps{
			Conf:          conf,
			Logger:        logger,
			TransitionSvc: transition.NewService(roster, engine, logger, conf),
			Validate:      validate,
			Translator:    translator,
		}),
	}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	wantCode int
	wantData []byte
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAdminName, testutil.Session.AdminName)
	req.Header.Set(HeaderAdminEmail, testutil.Session.AdminEmail)
	return req, httptest.NewRecorder()
}

func (f fixture) do(method, path string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newRequest(method, path, data...)
	f.app.ServeHTTP(rec, req)
	return rec
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

func unmarshall(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal(%s) failed: %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
