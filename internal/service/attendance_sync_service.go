package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/sis-sync/internal/models"
	"github.com/noah-isme/sis-sync/internal/sis"
	"github.com/noah-isme/sis-sync/pkg/decode"
)

const attendanceTable = "attendance_events"

var attendanceDateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "01/02/2006", "02.01.2006"}

// AttendanceSyncService ingests the attendance export chunk by chunk. Each
// chunk is resolved and committed on its own, so a chunk that fails to decode
// leaves the earlier ones in place.
type AttendanceSyncService struct {
	syncBase
	export exportSource
}

// NewAttendanceSyncService constructs the attendance syncer.
func NewAttendanceSyncService(export exportSource, deps SyncDeps) *AttendanceSyncService {
	return &AttendanceSyncService{syncBase: newSyncBase(models.DomainAttendance, deps), export: export}
}

// Sync implements DomainSyncer.
func (s *AttendanceSyncService) Sync(ctx context.Context, tenant models.TenantConfig, scope models.SyncScope) (*models.SyncResult, error) {
	result, started := s.start()

	_, err := s.export.Each(ctx, tenant, sis.AttendanceExport, listParams(tenant, scope), func(chunk *sis.Chunk) error {
		result.Fetched += len(chunk.Rows)
		result.Warnings += len(chunk.Warnings)
		if len(chunk.Rows) == 0 {
			return nil
		}
		return s.writeChunk(ctx, tenant, chunk, result)
	})
	if err != nil {
		// Chunks committed before the failure stay in the result.
		s.log(tenant).Warnw("attendance sync stopped", "fetched", result.Fetched, "persisted", result.Persisted, "error", err)
		return s.abort(tenant, result, started, err)
	}

	s.log(tenant).Infow("attendance synced", "fetched", result.Fetched, "persisted", result.Persisted, "skipped", result.Skipped, "warnings", result.Warnings)
	return s.finish(result, started), nil
}

func (s *AttendanceSyncService) writeChunk(ctx context.Context, tenant models.TenantConfig, chunk *sis.Chunk, result *models.SyncResult) error {
	studentKeys := make([]string, 0, len(chunk.Rows))
	classKeys := make([]string, 0, len(chunk.Rows))
	for _, row := range chunk.Rows {
		studentKeys = append(studentKeys, row[sis.AttendanceColStudentID])
		classKeys = append(classKeys, row[sis.AttendanceColClassID])
	}
	studentRefs, err := s.resolve(ctx, models.RefStudents, tenant, studentKeys)
	if err != nil {
		return err
	}
	classRefs, err := s.resolve(ctx, models.RefClasses, tenant, classKeys)
	if err != nil {
		return err
	}

	events := make([]models.AttendanceEvent, 0, len(chunk.Rows))
	missed := make([]bool, 0, len(chunk.Rows))
	for _, row := range chunk.Rows {
		event, miss := attendanceEvent(row, studentRefs, classRefs)
		events = append(events, event)
		missed = append(missed, miss)
	}
	return persist(ctx, s.syncBase, tenant, attendanceTable, events, missed, result)
}

func attendanceEvent(row decode.Row, students, classes models.ReferenceMap) (models.AttendanceEvent, bool) {
	student, studentMiss := link(students, sis.FlexString(row[sis.AttendanceColStudentID]))
	class, classMiss := link(classes, sis.FlexString(row[sis.AttendanceColClassID]))

	event := models.AttendanceEvent{
		ExternalID: row[sis.AttendanceColEventID],
		StudentID:  student,
		ClassID:    class,
		EventDate:  normalizeDate(row[sis.AttendanceColDate]),
		Status:     strings.ToUpper(strings.TrimSpace(row[sis.AttendanceColStatus])),
		Comment:    optional(row[sis.AttendanceColComment]),
	}
	if minutes, err := strconv.Atoi(strings.TrimSpace(row[sis.AttendanceColMinutes])); err == nil {
		event.MinutesAbsent = &minutes
	}
	return event, studentMiss || classMiss
}

// normalizeDate renders spreadsheet serial numbers and common text layouts as
// an ISO date. Values it cannot read are returned unchanged and fail
// validation later.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t.Format("2006-01-02")
		}
	}
	for _, layout := range attendanceDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return raw
}
