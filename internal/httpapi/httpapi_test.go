// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 The storage-serviced Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/cosmic-utils/storage-serviced/internal/audit"
	"github.com/cosmic-utils/storage-serviced/internal/httpapi"
	"github.com/cosmic-utils/storage-serviced/internal/model"
)

func Test(t *testing.T) { TestingT(t) }

type httpapiSuite struct {
	log *audit.Log
}

var _ = Suite(&httpapiSuite{})

func (s *httpapiSuite) SetUpTest(c *C) {
	log, err := audit.Open(filepath.Join(c.MkDir(), "audit.db"))
	c.Assert(err, IsNil)
	s.log = log
}

func (s *httpapiSuite) TearDownTest(c *C) {
	c.Assert(s.log.Close(), IsNil)
}

type fakePinger struct{ err error }

func (p *fakePinger) Ping() error { return p.err }

func (s *httpapiSuite) TestHealthzReturnsOKWhenProviderHealthy(c *C) {
	srv := httpapi.New(&fakePinger{}, s.log)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler().ServeHTTP(rec, req)

	c.Check(rec.Code, Equals, http.StatusOK)
	var body map[string]string
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &body), IsNil)
	c.Check(body["status"], Equals, "ok")
}

func (s *httpapiSuite) TestHealthzReturnsDegradedWhenProviderFails(c *C) {
	srv := httpapi.New(&fakePinger{err: model.NewError(model.KindNotConnected, "no bus")}, s.log)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler().ServeHTTP(rec, req)

	c.Check(rec.Code, Equals, http.StatusServiceUnavailable)
}

func (s *httpapiSuite) TestDebugAuditReturnsRecordsRespectingLimit(c *C) {
	for i := 0; i < 3; i++ {
		_, err := s.log.Append(model.AuditRecord{ActionID: "mount"})
		c.Assert(err, IsNil)
	}

	srv := httpapi.New(&fakePinger{}, s.log)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/audit?limit=2", nil)
	srv.Handler().ServeHTTP(rec, req)

	c.Check(rec.Code, Equals, http.StatusOK)
	var records []model.AuditRecord
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &records), IsNil)
	c.Check(records, HasLen, 2)
}

func (s *httpapiSuite) TestMetricsEndpointServesPrometheusExposition(c *C) {
	srv := httpapi.New(&fakePinger{}, s.log)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	srv.Handler().ServeHTTP(rec, req)

	c.Check(rec.Code, Equals, http.StatusOK)
	c.Check(rec.Body.Len() > 0, Equals, true)
}
