package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	consentsGranted  atomic.Int64
	consentsRevoked  atomic.Int64
	exportsCompleted atomic.Int64
	exportsFailed    atomic.Int64
	recordsExported  atomic.Int64
	artifactBytes    atomic.Int64
	gdprCompleted    atomic.Int64
	gdprRejected     atomic.Int64
	gdprPending      atomic.Int64
	breachesReported atomic.Int64
)

func IncConsentGranted()        { consentsGranted.Add(1) }
func IncConsentRevoked()        { consentsRevoked.Add(1) }
func IncExportCompleted()       { exportsCompleted.Add(1) }
func IncExportFailed()          { exportsFailed.Add(1) }
func AddRecordsExported(n int)  { recordsExported.Add(int64(n)) }
func AddArtifactBytes(n int64)  { artifactBytes.Add(n) }
func IncGDPRCompleted()         { gdprCompleted.Add(1); gdprPending.Add(-1) }
func IncGDPRRejected()          { gdprRejected.Add(1); gdprPending.Add(-1) }
func IncGDPRPending()           { gdprPending.Add(1) }
func IncBreachReported()        { breachesReported.Add(1) }

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP geofora_consents_granted_total Number of consent grants recorded since start.\n")
	fmt.Fprintf(w, "# TYPE geofora_consents_granted_total counter\n")
	fmt.Fprintf(w, "geofora_consents_granted_total %d\n", consentsGranted.Load())

	fmt.Fprintf(w, "# HELP geofora_consents_revoked_total Number of consent revocations recorded since start.\n")
	fmt.Fprintf(w, "# TYPE geofora_consents_revoked_total counter\n")
	fmt.Fprintf(w, "geofora_consents_revoked_total %d\n", consentsRevoked.Load())

	fmt.Fprintf(w, "# HELP geofora_exports_completed_total Number of export jobs completed since start.\n")
	fmt.Fprintf(w, "# TYPE geofora_exports_completed_total counter\n")
	fmt.Fprintf(w, "geofora_exports_completed_total %d\n", exportsCompleted.Load())

	fmt.Fprintf(w, "# HELP geofora_exports_failed_total Number of export jobs failed since start.\n")
	fmt.Fprintf(w, "# TYPE geofora_exports_failed_total counter\n")
	fmt.Fprintf(w, "geofora_exports_failed_total %d\n", exportsFailed.Load())

	fmt.Fprintf(w, "# HELP geofora_records_exported_total Number of anonymized records written into export artifacts.\n")
	fmt.Fprintf(w, "# TYPE geofora_records_exported_total counter\n")
	fmt.Fprintf(w, "geofora_records_exported_total %d\n", recordsExported.Load())

	fmt.Fprintf(w, "# HELP geofora_artifact_bytes_total Bytes written to the artifact store since start.\n")
	fmt.Fprintf(w, "# TYPE geofora_artifact_bytes_total counter\n")
	fmt.Fprintf(w, "geofora_artifact_bytes_total %d\n", artifactBytes.Load())

	fmt.Fprintf(w, "# HELP geofora_gdpr_requests_pending Number of GDPR requests awaiting processing.\n")
	fmt.Fprintf(w, "# TYPE geofora_gdpr_requests_pending gauge\n")
	fmt.Fprintf(w, "geofora_gdpr_requests_pending %d\n", gdprPending.Load())

	fmt.Fprintf(w, "# HELP geofora_gdpr_requests_completed_total Number of GDPR requests completed since start.\n")
	fmt.Fprintf(w, "# TYPE geofora_gdpr_requests_completed_total counter\n")
	fmt.Fprintf(w, "geofora_gdpr_requests_completed_total %d\n", gdprCompleted.Load())

	fmt.Fprintf(w, "# HELP geofora_gdpr_requests_rejected_total Number of GDPR requests rejected since start.\n")
	fmt.Fprintf(w, "# TYPE geofora_gdpr_requests_rejected_total counter\n")
	fmt.Fprintf(w, "geofora_gdpr_requests_rejected_total %d\n", gdprRejected.Load())

	fmt.Fprintf(w, "# HELP geofora_breaches_reported_total Number of data breach reports filed since start.\n")
	fmt.Fprintf(w, "# TYPE geofora_breaches_reported_total counter\n")
	fmt.Fprintf(w, "geofora_breaches_reported_total %d\n", breachesReported.Load())
}
