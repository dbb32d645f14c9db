package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"civicledger/internal/identity"
	"civicledger/internal/ledger/export"
	"civicledger/internal/ledger/handler/mocks"
	"civicledger/internal/ledger/models"
	"civicledger/internal/ledger/query"
	"civicledger/internal/platform/middleware"
	dErrors "civicledger/pkg/domain-errors"
	"civicledger/pkg/requestcontext"
	"civicledger/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/ledger-mocks.go -package=mocks VoteService,QueryService,StateReader

type LedgerHandlerSuite struct {
	suite.Suite
	votes    *mocks.MockVoteService
	queries  *mocks.MockQueryService
	sessions *mocks.MockStateReader
	router   chi.Router
}

func TestLedgerHandlerSuite(t *testing.T) {
	suite.Run(t, new(LedgerHandlerSuite))
}

const exportKey = "s3cret-export"

func (s *LedgerHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.votes = mocks.NewMockVoteService(ctrl)
	s.queries = mocks.NewMockQueryService(ctrl)
	s.sessions = mocks.NewMockStateReader(ctrl)

	hash, err := bcrypt.GenerateFromPassword([]byte(exportKey), bcrypt.MinCost)
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(s.votes, s.queries, s.sessions, nil, string(hash), logger)
	s.router = chi.NewRouter()
	s.router.Use(middleware.CurrentSession(nil, logger))
	h.Register(s.router)
}

func (s *LedgerHandlerSuite) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

var sampleRecords = []*models.VoteRecord{
	{ID: "rec_1", SubjectID: "law-1", VoteType: models.VoteYes, VoterHash: "h1", Region: "Gauteng", Timestamp: 1709294400000, ReceiptHash: "0x01", VoterAddress: "0xaa"},
	{ID: "rec_2", SubjectID: "law-2", VoteType: models.VoteNo, VoterHash: "h2", Timestamp: 1709298000000, ReceiptHash: "0x02"},
	{ID: "rec_3", SubjectID: "law-1", VoteType: models.VoteNo, VoterHash: "h3", Region: "Limpopo", Timestamp: 1709301600000, ReceiptHash: "0x03"},
}

func (s *LedgerHandlerSuite) TestSubmitVote() {
	state := identity.State{Verified: true, Region: "Gauteng", Address: "0xabc"}

	s.Run("created", func() {
		s.sessions.EXPECT().State(gomock.Any(), "sess-1").Return(state, nil)
		s.votes.EXPECT().SubmitVote(gomock.Any(), state, "law-42", models.VoteYes).Return(sampleRecords[0], nil)

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/votes", SubmitVoteRequest{SubjectID: " law-42 ", VoteType: "YES"})
		req.Header.Set(middleware.SessionHeader, "sess-1")
		w := s.serve(req)

		s.Equal(http.StatusCreated, w.Code)
		rec := testutil.UnmarshalResponse[models.VoteRecord](s.T(), w)
		s.Equal("rec_1", rec.ID)
	})

	errorCases := []struct {
		code   dErrors.Code
		status int
	}{
		{dErrors.CodeNotVerified, http.StatusForbidden},
		{dErrors.CodeWalletRequired, http.StatusPreconditionFailed},
		{dErrors.CodeAlreadyVoted, http.StatusConflict},
	}
	for _, tc := range errorCases {
		s.Run(string(tc.code), func() {
			s.sessions.EXPECT().State(gomock.Any(), "sess-1").Return(state, nil)
			s.votes.EXPECT().SubmitVote(gomock.Any(), state, "law-42", models.VoteNo).Return(nil, dErrors.New(tc.code, "nope"))

			req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/votes", `{"subject_id":"law-42","vote_type":"no"}`)
			w := s.serve(testutil.WithSessionID(req, "sess-1"))

			testutil.AssertStatusAndError(s.T(), w, tc.status, string(tc.code))
		})
	}

	s.Run("body is normalised and left for the service to validate", func() {
		unverified := identity.State{}
		s.sessions.EXPECT().State(gomock.Any(), "sess-1").Return(unverified, nil)
		s.votes.EXPECT().SubmitVote(gomock.Any(), unverified, "law-42", models.VoteType("maybe")).
			Return(nil, dErrors.New(dErrors.CodeNotVerified, "Please verify your identity to vote."))

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/votes", `{"subject_id":" law-42 ","vote_type":" MAYBE "}`)
		req.Header.Set(middleware.SessionHeader, "sess-1")
		w := s.serve(req)
		testutil.AssertStatusAndError(s.T(), w, http.StatusForbidden, string(dErrors.CodeNotVerified))
	})

	s.Run("no session submits with empty state", func() {
		s.votes.EXPECT().SubmitVote(gomock.Any(), identity.State{}, "", models.VoteYes).
			Return(nil, dErrors.New(dErrors.CodeNotVerified, "Please verify your identity to vote."))

		req := httptest.NewRequest(http.MethodPost, "/votes", strings.NewReader(`{"vote_type":"yes"}`))
		w := s.serve(req)
		testutil.AssertStatusAndError(s.T(), w, http.StatusForbidden, string(dErrors.CodeNotVerified))
	})

	s.Run("malformed body", func() {
		req := httptest.NewRequest(http.MethodPost, "/votes", strings.NewReader(`{"subject_id":`))
		req.Header.Set(middleware.SessionHeader, "sess-1")
		w := s.serve(req)
		testutil.AssertStatusAndError(s.T(), w, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})
}

func (s *LedgerHandlerSuite) TestListLedger() {
	s.queries.EXPECT().Query(gomock.Any(), gomock.Any()).DoAndReturn(func(_ any, f query.Filter) []*models.VoteRecord {
		s.Equal("gauteng", f.Region)
		s.Require().NotNil(f.From)
		s.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *f.From)
		s.Nil(f.To)
		s.Equal(models.VoteFilter("yes"), f.VoteType)
		return sampleRecords[:1]
	})

	w := s.serve(httptest.NewRequest(http.MethodGet, "/ledger?region=gauteng&from=2024-03-01&vote_type=yes", nil))
	s.Equal(http.StatusOK, w.Code)

	var body struct {
		Records []models.VoteRecord `json:"records"`
		Count   int                 `json:"count"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Equal(1, body.Count)
	s.Equal("rec_1", body.Records[0].ID)
}

func (s *LedgerHandlerSuite) TestInvalidFilter() {
	w := s.serve(httptest.NewRequest(http.MethodGet, "/ledger?from=yesterday", nil))
	testutil.AssertStatusAndError(s.T(), w, http.StatusBadRequest, string(dErrors.CodeValidation))
}

func (s *LedgerHandlerSuite) TestTally() {
	s.queries.EXPECT().Query(gomock.Any(), gomock.Any()).Return(sampleRecords)

	w := s.serve(httptest.NewRequest(http.MethodGet, "/ledger/tally", nil))
	s.Equal(http.StatusOK, w.Code)

	var body struct {
		Subjects []query.SubjectTally `json:"subjects"`
		Summary  query.Summary        `json:"summary"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Require().Len(body.Subjects, 2)
	s.Equal("law-1", body.Subjects[0].SubjectID)
	s.Equal(models.Tally{Yes: 1, No: 1}, body.Subjects[0].Tally)
	s.Equal(query.Summary{Total: 3, Yes: 1, No: 2, Subjects: 2, Regions: 2}, body.Summary)
}

func (s *LedgerHandlerSuite) TestTallyEmptyLedger() {
	s.queries.EXPECT().Query(gomock.Any(), gomock.Any()).Return([]*models.VoteRecord{})

	w := s.serve(httptest.NewRequest(http.MethodGet, "/ledger/tally", nil))
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"subjects":[]`)
}

func (s *LedgerHandlerSuite) TestExportRequiresKey() {
	for _, path := range []string{"/ledger/export.csv", "/ledger/export/report"} {
		w := s.serve(httptest.NewRequest(http.MethodGet, path, nil))
		s.Equal(http.StatusForbidden, w.Code, path)

		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(middleware.ExportKeyHeader, "wrong")
		w = s.serve(req)
		s.Equal(http.StatusForbidden, w.Code, path)
	}
}

func (s *LedgerHandlerSuite) TestExportCSV() {
	s.queries.EXPECT().Query(gomock.Any(), gomock.Any()).Return(sampleRecords)

	req := httptest.NewRequest(http.MethodGet, "/ledger/export.csv", nil)
	req.Header.Set(middleware.ExportKeyHeader, exportKey)
	w := s.serve(req)

	s.Equal(http.StatusOK, w.Code)
	s.Equal("text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	s.Contains(w.Header().Get("Content-Disposition"), "civic-ledger.csv")

	header, rows, err := export.ReadCSV(bytes.NewReader(w.Body.Bytes()))
	s.Require().NoError(err)
	s.Equal(export.CSVHeader, header)
	s.Len(rows, 3)
	s.Equal("0xaa", rows[0][6])
}

func (s *LedgerHandlerSuite) TestExportReport() {
	s.queries.EXPECT().Query(gomock.Any(), gomock.Any()).Return(sampleRecords)

	req := httptest.NewRequest(http.MethodGet, "/ledger/export/report", nil)
	req.Header.Set(middleware.ExportKeyHeader, exportKey)
	req = req.WithContext(requestcontext.WithTime(req.Context(), time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)))
	w := s.serve(req)

	s.Equal(http.StatusOK, w.Code)
	body := w.Body.String()
	s.True(strings.HasPrefix(body, export.ReportTitle+"\nGenerated 2024-03-05T00:00:00.000Z, 3 records"))
	s.NotContains(body, "0xaa")
}
