package state

const schemaSQL = `
CREATE TABLE IF NOT EXISTS worlds (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  chat_id TEXT,
  turn_limit INTEGER NOT NULL DEFAULT 5,
  created_at TEXT NOT NULL,
  last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
  world_id TEXT NOT NULL,
  id TEXT NOT NULL,
  name TEXT NOT NULL,
  system_prompt TEXT,
  status TEXT,
  llm_call_count INTEGER NOT NULL DEFAULT 0,
  last_llm_call TEXT,
  created_at TEXT NOT NULL,
  last_updated TEXT NOT NULL,
  PRIMARY KEY (world_id, id)
);

CREATE TABLE IF NOT EXISTS agent_memory (
  world_id TEXT NOT NULL,
  agent_id TEXT NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  sender TEXT,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agent_memory_owner ON agent_memory(world_id, agent_id);

CREATE TABLE IF NOT EXISTS agent_memory_archive (
  world_id TEXT NOT NULL,
  agent_id TEXT NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  sender TEXT,
  created_at TEXT NOT NULL,
  archived_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_messages (
  id TEXT PRIMARY KEY,
  world_id TEXT NOT NULL,
  message_id TEXT NOT NULL,
  chat_id TEXT,
  reply_to TEXT,
  content TEXT NOT NULL,
  sender TEXT NOT NULL,
  status TEXT NOT NULL,
  priority INTEGER NOT NULL DEFAULT 0,
  retry_count INTEGER NOT NULL DEFAULT 0,
  max_retries INTEGER NOT NULL DEFAULT 3,
  timeout_seconds INTEGER NOT NULL DEFAULT 300,
  error TEXT,
  created_at TEXT NOT NULL,
  processed_at TEXT,
  heartbeat_at TEXT,
  completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_queue_world_status ON queue_messages(world_id, status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_queue_message_id ON queue_messages(message_id);

CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  world_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_world_created ON events(world_id, created_at);
`
