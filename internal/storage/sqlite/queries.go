package sqlite

const createSnapshotSQL = `CREATE TABLE genres (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE artists (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    sort_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE albums (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    sort_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE tracks (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    sort_name TEXT NOT NULL DEFAULT '',
    artist_id INTEGER REFERENCES artists(id),
    album_artist_id INTEGER REFERENCES artists(id),
    album_id INTEGER REFERENCES albums(id),
    genre_id INTEGER REFERENCES genres(id),
    year INTEGER NOT NULL DEFAULT 0,
    duration REAL NOT NULL DEFAULT 0,
    start REAL NOT NULL DEFAULT 0,
    finish REAL NOT NULL DEFAULT 0,
    track_number INTEGER NOT NULL DEFAULT 0,
    disc_number INTEGER NOT NULL DEFAULT 0,
    play_count INTEGER NOT NULL DEFAULT 0,
    rating INTEGER NOT NULL DEFAULT 0,
    music_filename TEXT NOT NULL,
    file_md5 TEXT NOT NULL,
    artwork_filename TEXT
);

CREATE INDEX idx_tracks_artist ON tracks(artist_id);
CREATE INDEX idx_tracks_album ON tracks(album_id);
CREATE INDEX idx_tracks_genre ON tracks(genre_id);

CREATE TABLE playlists (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    parent_id TEXT,
    is_library INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE playlist_tracks (
    playlist_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    track_id TEXT NOT NULL,
    PRIMARY KEY (playlist_id, position)
);`

var snapshotTables = []string{"playlist_tracks", "playlists", "tracks", "albums", "artists", "genres"}

const insertTrackSQL = `INSERT INTO tracks (id, name, sort_name, artist_id, album_artist_id, album_id, genre_id, year, duration, start, finish, track_number, disc_number, play_count, rating, music_filename, file_md5, artwork_filename)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertPlaylistSQL = `INSERT INTO playlists (id, name, parent_id, is_library) VALUES (?, ?, ?, ?)`

const insertPlaylistTrackSQL = `INSERT INTO playlist_tracks (playlist_id, position, track_id) VALUES (?, ?, ?)`

const selectPriorTracksSQL = `SELECT id, file_md5, COALESCE(artwork_filename, '') FROM tracks`

const upsertExportFinishedSQL = `INSERT INTO export_finished (id, finished_at)
        VALUES (1, ?)
        ON CONFLICT(id) DO UPDATE SET finished_at=excluded.finished_at`

const upsertLibraryMetadataSQL = `INSERT INTO library_metadata (id, total_file_size)
        VALUES (1, ?)
        ON CONFLICT(id) DO UPDATE SET total_file_size=excluded.total_file_size`

const deletePendingForFieldSQL = `DELETE FROM pending_updates WHERE field = ? AND track_id = ?`

const insertPendingSQL = `INSERT INTO pending_updates (field, track_id, value, inserted_at) VALUES (?, ?, ?, ?)`

const deleteMatchingPendingSQL = `DELETE FROM pending_updates WHERE field = ? AND track_id = ? AND value = ?`

const selectPendingSQL = `SELECT id, field, track_id, value, inserted_at FROM pending_updates ORDER BY id`
