package db

// SchemaSQL contains the database schema initialization SQL. Tables marked
// for live queries carry their filter fields as indexed columns so change
// feeds stay cheap server-side.
const SchemaSQL = `
    -- ==========================================================================
    -- CHAT TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chat SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS title ON chat TYPE string;
    DEFINE FIELD IF NOT EXISTS is_example ON chat TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS username ON chat TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON chat TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON chat TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chat_username ON chat FIELDS username;

    -- ==========================================================================
    -- MESSAGE TABLE
    -- ==========================================================================
    -- Denormalized JSON (code_output_tables, steps) is stored as raw text
    -- and parsed client-side so one corrupt blob cannot poison a query.
    DEFINE TABLE IF NOT EXISTS message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS chat ON message TYPE record<chat>;
    DEFINE FIELD IF NOT EXISTS role ON message TYPE string ASSERT $value IN ["user", "assistant"];
    DEFINE FIELD IF NOT EXISTS content ON message TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS username ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS type ON message TYPE string DEFAULT "text_message"
        ASSERT $value IN ["text_message", "screen_recording", "code_run"];
    DEFINE FIELD IF NOT EXISTS text_is_currently_streaming ON message TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS code_output ON message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS code_output_error ON message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS code_run_success ON message TYPE option<bool>;
    DEFINE FIELD IF NOT EXISTS code_output_tables ON message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS script ON message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS steps ON message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS function_name ON message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS run_id ON message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS screenrecording_url ON message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS workflow_step_id ON message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS from_template ON message TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS requires_text_reply ON message TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS created_at ON message TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS message_chat ON message FIELDS chat;

    -- ==========================================================================
    -- WORKFLOW_STEP TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS workflow_step SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS chat ON workflow_step TYPE record<chat>;
    DEFINE FIELD IF NOT EXISTS title ON workflow_step TYPE string;
    DEFINE FIELD IF NOT EXISTS description ON workflow_step TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS status ON workflow_step TYPE string DEFAULT "waiting"
        ASSERT $value IN ["complete", "active", "waiting"];
    DEFINE FIELD IF NOT EXISTS code ON workflow_step TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS example_data ON workflow_step TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS screenshots ON workflow_step TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS step_number ON workflow_step TYPE int;
    DEFINE FIELD IF NOT EXISTS created_at ON workflow_step TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS workflow_step_chat ON workflow_step FIELDS chat;

    -- ==========================================================================
    -- RUN TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS run SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS chat ON run TYPE record<chat>;
    DEFINE FIELD IF NOT EXISTS dashboard_id ON run TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS status ON run TYPE string DEFAULT "running";
    DEFINE FIELD IF NOT EXISTS in_progress ON run TYPE bool DEFAULT true;
    DEFINE FIELD IF NOT EXISTS username ON run TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON run TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON run TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS run_chat ON run FIELDS chat;

    -- ==========================================================================
    -- RUN_MESSAGE TABLE (append-only)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS run_message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS run ON run_message TYPE record<run>;
    DEFINE FIELD IF NOT EXISTS sender ON run_message TYPE string;
    DEFINE FIELD IF NOT EXISTS type ON run_message TYPE string DEFAULT "info";
    DEFINE FIELD IF NOT EXISTS text ON run_message TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS created_at ON run_message TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS run_message_run ON run_message FIELDS run;

    -- ==========================================================================
    -- CODERUN_EVENT TABLE (append-only; updated with progress counters)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS coderun_event SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS chat ON coderun_event TYPE record<chat>;
    DEFINE FIELD IF NOT EXISTS run ON coderun_event TYPE option<record<run>>;
    DEFINE FIELD IF NOT EXISTS message ON coderun_event TYPE option<record<message>>;
    DEFINE FIELD IF NOT EXISTS function_name ON coderun_event TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS description ON coderun_event TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS progress ON coderun_event TYPE option<int>;
    DEFINE FIELD IF NOT EXISTS total ON coderun_event TYPE option<int>;
    DEFINE FIELD IF NOT EXISTS created_at ON coderun_event TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS coderun_event_chat ON coderun_event FIELDS chat;

    -- ==========================================================================
    -- BROWSER_EVENT TABLE (append-only)
    -- ==========================================================================
    -- Carries chat in addition to coderun_event: the chat-scoped live feed
    -- and dashboard-originated abort events both need it.
    DEFINE TABLE IF NOT EXISTS browser_event SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS chat ON browser_event TYPE record<chat>;
    DEFINE FIELD IF NOT EXISTS coderun_event ON browser_event TYPE option<record<coderun_event>>;
    DEFINE FIELD IF NOT EXISTS sender ON browser_event TYPE string;
    DEFINE FIELD IF NOT EXISTS type ON browser_event TYPE string;
    DEFINE FIELD IF NOT EXISTS display_text ON browser_event TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON browser_event TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS browser_event_chat ON browser_event FIELDS chat;

    -- ==========================================================================
    -- KEYFRAME TABLE (append-only; seq is client-set insertion order)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS keyframe SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS message ON keyframe TYPE record<message>;
    DEFINE FIELD IF NOT EXISTS seq ON keyframe TYPE int;
    DEFINE FIELD IF NOT EXISTS image_url ON keyframe TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON keyframe TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS keyframe_message ON keyframe FIELDS message;
`
