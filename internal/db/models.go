package db

import (
	"encoding/json"
	"time"

	"github.com/pgvector/pgvector-go"
)

// User maps kb.users.
type User struct {
	UserID             int64      `gorm:"column:user_id;primaryKey;autoIncrement"`
	Username           string     `gorm:"column:username;type:text;not null;unique"`
	PasswordHash       string     `gorm:"column:password_hash;type:text;not null"`
	MustChangePassword bool       `gorm:"column:must_change_password;type:boolean;not null;default:false"`
	CreatedAt          time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	LastLoginAt        *time.Time `gorm:"column:last_login_at;type:timestamptz"`
}

func (User) TableName() string { return "kb.users" }

// Session maps kb.sessions.
type Session struct {
	SessionID  string    `gorm:"column:session_id;type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID     int64     `gorm:"column:user_id;type:bigint;not null;index"`
	ExpiresAt  time.Time `gorm:"column:expires_at;type:timestamptz;not null"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;type:timestamptz;not null;default:now()"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Session) TableName() string { return "kb.sessions" }

// UserSettings maps kb.user_settings.
type UserSettings struct {
	UserID    int64           `gorm:"column:user_id;primaryKey"`
	UIPrefs   json.RawMessage `gorm:"column:ui_prefs;type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (UserSettings) TableName() string { return "kb.user_settings" }

// Issue maps kb.issues. The embedding column holds a 384-dimension
// vector generated from the composite embedding text; embedding and
// embedding_text are written together and rewritten whenever any field
// feeding the text builder changes.
type Issue struct {
	IssueID      int64   `gorm:"column:issue_id;primaryKey;autoIncrement"`
	IssueUUID    string  `gorm:"column:issue_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	UserID       int64   `gorm:"column:user_id;type:bigint;not null;index"`
	ErrorType    string  `gorm:"column:error_type;type:text;not null"`
	ErrorMessage string  `gorm:"column:error_message;type:text;not null"`
	StackTrace   *string `gorm:"column:stack_trace;type:text"`

	FilePath     *string `gorm:"column:file_path;type:text"`
	LineNumber   *int    `gorm:"column:line_number;type:integer"`
	FunctionName *string `gorm:"column:function_name;type:text"`
	CodeSnippet  *string `gorm:"column:code_snippet;type:text"`

	Language     *string         `gorm:"column:language;type:text"`
	Framework    *string         `gorm:"column:framework;type:text"`
	Environment  *string         `gorm:"column:environment;type:text"`
	OS           *string         `gorm:"column:os;type:text"`
	Dependencies json.RawMessage `gorm:"column:dependencies;type:jsonb"`

	Tags     json.RawMessage `gorm:"column:tags;type:jsonb;not null;default:'[]'"`
	Severity string          `gorm:"column:severity;type:text;not null;default:medium"`
	Status   string          `gorm:"column:status;type:text;not null;default:open"`

	Embedding     *pgvector.Vector `gorm:"column:embedding;type:vector(384)"`
	EmbeddingText *string          `gorm:"column:embedding_text;type:text"`

	Occurrences     int       `gorm:"column:occurrences;type:integer;not null;default:1"`
	FirstOccurredAt time.Time `gorm:"column:first_occurred_at;type:timestamptz;not null"`
	LastOccurredAt  time.Time `gorm:"column:last_occurred_at;type:timestamptz;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Issue) TableName() string { return "kb.issues" }

// Solution maps kb.solutions.
type Solution struct {
	SolutionID   int64           `gorm:"column:solution_id;primaryKey;autoIncrement"`
	SolutionUUID string          `gorm:"column:solution_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	IssueID      int64           `gorm:"column:issue_id;type:bigint;not null;index"`
	CreatedBy    int64           `gorm:"column:created_by;type:bigint;not null"`
	Title        string          `gorm:"column:title;type:text;not null"`
	Description  string          `gorm:"column:description;type:text;not null"`
	CodeFix      *string         `gorm:"column:code_fix;type:text"`
	Steps        json.RawMessage `gorm:"column:steps;type:jsonb;not null;default:'[]'"`
	Tags         json.RawMessage `gorm:"column:tags;type:jsonb;not null;default:'[]'"`

	EffectivenessScore float64 `gorm:"column:effectiveness_score;type:double precision;not null;default:0"`
	TimesUsed          int     `gorm:"column:times_used;type:integer;not null;default:0"`
	SuccessCount       int     `gorm:"column:success_count;type:integer;not null;default:0"`
	FailureCount       int     `gorm:"column:failure_count;type:integer;not null;default:0"`

	AIGenerated bool       `gorm:"column:ai_generated;type:boolean;not null;default:false"`
	Verified    bool       `gorm:"column:verified;type:boolean;not null;default:false"`
	VerifiedBy  *int64     `gorm:"column:verified_by;type:bigint"`
	VerifiedAt  *time.Time `gorm:"column:verified_at;type:timestamptz"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Solution) TableName() string { return "kb.solutions" }

// SolutionFeedback maps kb.solution_feedback. One row per user per
// solution; repeated feedback upserts.
type SolutionFeedback struct {
	FeedbackID int64     `gorm:"column:feedback_id;primaryKey;autoIncrement"`
	SolutionID int64     `gorm:"column:solution_id;type:bigint;not null;uniqueIndex:idx_solution_feedback_user"`
	UserID     int64     `gorm:"column:user_id;type:bigint;not null;uniqueIndex:idx_solution_feedback_user"`
	WasHelpful bool      `gorm:"column:was_helpful;type:boolean;not null"`
	Comment    *string   `gorm:"column:comment;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (SolutionFeedback) TableName() string { return "kb.solution_feedback" }

// Comment maps kb.comments.
type Comment struct {
	CommentID   int64     `gorm:"column:comment_id;primaryKey;autoIncrement"`
	CommentUUID string    `gorm:"column:comment_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	IssueID     int64     `gorm:"column:issue_id;type:bigint;not null;index"`
	UserID      int64     `gorm:"column:user_id;type:bigint;not null"`
	Content     string    `gorm:"column:content;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Comment) TableName() string { return "kb.comments" }

func autoMigrateModels() []any {
	return []any{
		&User{},
		&Session{},
		&UserSettings{},
		&Issue{},
		&Solution{},
		&SolutionFeedback{},
		&Comment{},
	}
}
