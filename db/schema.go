package db

// schema holds the statements run at startup to ensure all tables exist.
// Referencing entities declare their own policy toward memberships: comments,
// likes and expense participation cascade away with a membership, while an
// expense keeps its history and only nulls the payer reference.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    token TEXT NOT NULL UNIQUE,
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    creator_user_id UUID NOT NULL REFERENCES users(id),
    invite_token TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS group_memberships (
    id UUID PRIMARY KEY,
    group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    user_id UUID REFERENCES users(id) ON DELETE CASCADE,
    guest_token_digest TEXT,
    nickname VARCHAR(20) NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('owner', 'member')),
    created_at TIMESTAMPTZ NOT NULL,
    CONSTRAINT memberships_nickname_unique UNIQUE (group_id, nickname),
    CONSTRAINT memberships_digest_unique UNIQUE (guest_token_digest)
);

CREATE UNIQUE INDEX IF NOT EXISTS memberships_account_unique
    ON group_memberships (group_id, user_id) WHERE user_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS expenses (
    id UUID PRIMARY KEY,
    group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    payer_membership_id UUID REFERENCES group_memberships(id) ON DELETE SET NULL,
    title TEXT NOT NULL,
    amount BIGINT NOT NULL CHECK (amount > 0),
    spent_on DATE NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS expense_participants (
    expense_id UUID NOT NULL REFERENCES expenses(id) ON DELETE CASCADE,
    membership_id UUID NOT NULL REFERENCES group_memberships(id) ON DELETE CASCADE,
    PRIMARY KEY (expense_id, membership_id)
);

CREATE TABLE IF NOT EXISTS cards (
    id UUID PRIMARY KEY,
    title TEXT NOT NULL,
    body TEXT NOT NULL DEFAULT '',
    owner_group_id UUID REFERENCES groups(id) ON DELETE CASCADE,
    owner_user_id UUID REFERENCES users(id) ON DELETE CASCADE,
    created_by_membership_id UUID REFERENCES group_memberships(id) ON DELETE SET NULL,
    created_at TIMESTAMPTZ NOT NULL,
    CONSTRAINT cards_one_owner CHECK (
        (owner_group_id IS NULL) <> (owner_user_id IS NULL)
    )
);

CREATE TABLE IF NOT EXISTS schedules (
    id UUID PRIMARY KEY,
    card_id UUID NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
    day INTEGER NOT NULL,
    position INTEGER NOT NULL,
    spot TEXT NOT NULL,
    memo TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS comments (
    id UUID PRIMARY KEY,
    card_id UUID NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
    membership_id UUID NOT NULL REFERENCES group_memberships(id) ON DELETE CASCADE,
    body TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS likes (
    card_id UUID NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
    membership_id UUID NOT NULL REFERENCES group_memberships(id) ON DELETE CASCADE,
    PRIMARY KEY (card_id, membership_id)
);

CREATE TABLE IF NOT EXISTS events (
    id UUID PRIMARY KEY,
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    event_data JSONB,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memberships_group_id ON group_memberships(group_id);
CREATE INDEX IF NOT EXISTS idx_expenses_group_id ON expenses(group_id);
CREATE INDEX IF NOT EXISTS idx_cards_owner_group_id ON cards(owner_group_id);
CREATE INDEX IF NOT EXISTS idx_comments_card_id ON comments(card_id);
CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token);
`
