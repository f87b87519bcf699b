package store

import (
	"strconv"
	"strings"
)

// Queries are written once with ? placeholders; the Postgres store rebinds
// them to $n at package init.

const (
	ownerColumns = `id, kind, name, total_score, tier, scored_at, created_at`

	evaluationColumns = `id, owner_id, type, status, ai_score, review_score, reviewer_id,
		reviewer_notes, feedback, certification_id, metrics, submitted_at, decided_at,
		created_at, updated_at`

	documentColumns = `id, evaluation_id, name, url, size, mime_type, uploaded_by, uploaded_at`

	certificationColumns = `id, owner_id, evaluation_id, type, score, status, issued_at,
		expires_at, revoked_at, revoke_reason`
)

type queries struct {
	insertOwner      string
	getOwner         string
	lockOwner        string
	updateOwnerScore string

	insertEvaluation string
	getEvaluation    string
	listEvaluations  string
	updateEvaluation string
	evaluationExists string

	insertDocument string
	listDocuments  string

	insertCertification    string
	getCertification       string
	listCertifications     string
	listLiveCertifications string
	updateCertification    string
	certificationExists    string
}

var sqliteQueries = queries{
	insertOwner:      `INSERT INTO owners (` + ownerColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`,
	getOwner:         `SELECT ` + ownerColumns + ` FROM owners WHERE id = ?`,
	lockOwner:        `SELECT ` + ownerColumns + ` FROM owners WHERE id = ?`,
	updateOwnerScore: `UPDATE owners SET total_score = ?, tier = ?, scored_at = ? WHERE id = ?`,

	insertEvaluation: `INSERT INTO evaluations (` + evaluationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	getEvaluation:   `SELECT ` + evaluationColumns + ` FROM evaluations WHERE id = ?`,
	listEvaluations: `SELECT ` + evaluationColumns + ` FROM evaluations WHERE owner_id = ? ORDER BY created_at, id`,
	updateEvaluation: `UPDATE evaluations SET status = ?, ai_score = ?, review_score = ?, reviewer_id = ?,
		reviewer_notes = ?, feedback = ?, certification_id = ?, metrics = ?, submitted_at = ?,
		decided_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
	evaluationExists: `SELECT count(*) FROM evaluations WHERE id = ?`,

	insertDocument: `INSERT INTO documents (` + documentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	listDocuments:  `SELECT ` + documentColumns + ` FROM documents WHERE evaluation_id = ? ORDER BY uploaded_at, id`,

	insertCertification: `INSERT INTO certifications (` + certificationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	getCertification:   `SELECT ` + certificationColumns + ` FROM certifications WHERE id = ?`,
	listCertifications: `SELECT ` + certificationColumns + ` FROM certifications WHERE owner_id = ? ORDER BY issued_at, id`,
	listLiveCertifications: `SELECT ` + certificationColumns + ` FROM certifications
		WHERE status IN ('ACTIVE', 'EXPIRING_SOON') AND expires_at <= ?
		ORDER BY owner_id, expires_at`,
	updateCertification: `UPDATE certifications SET status = ?, revoked_at = ?, revoke_reason = ?
		WHERE id = ? AND status = ?`,
	certificationExists: `SELECT count(*) FROM certifications WHERE id = ?`,
}

// SQLite serializes writers on its single connection, so only Postgres needs
// the row lock. NO KEY UPDATE does not conflict with the KEY SHARE lock that
// certification inserts take through the owner foreign key.
var postgresQueries = func() queries {
	q := sqliteQueries.rebind()
	q.lockOwner += ` FOR NO KEY UPDATE`
	return q
}()

func (q queries) rebind() queries {
	return queries{
		insertOwner:            rebind(q.insertOwner),
		getOwner:               rebind(q.getOwner),
		lockOwner:              rebind(q.lockOwner),
		updateOwnerScore:       rebind(q.updateOwnerScore),
		insertEvaluation:       rebind(q.insertEvaluation),
		getEvaluation:          rebind(q.getEvaluation),
		listEvaluations:        rebind(q.listEvaluations),
		updateEvaluation:       rebind(q.updateEvaluation),
		evaluationExists:       rebind(q.evaluationExists),
		insertDocument:         rebind(q.insertDocument),
		listDocuments:          rebind(q.listDocuments),
		insertCertification:    rebind(q.insertCertification),
		getCertification:       rebind(q.getCertification),
		listCertifications:     rebind(q.listCertifications),
		listLiveCertifications: rebind(q.listLiveCertifications),
		updateCertification:    rebind(q.updateCertification),
		certificationExists:    rebind(q.certificationExists),
	}
}

// rebind rewrites ? placeholders as $1, $2, ... None of the queries carry a
// literal question mark.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
