package catalog

// SchemaVersion is bumped whenever the table layout below changes; Open
// compares it against the marker file left next to the database and
// rebuilds the database if they disagree.
const SchemaVersion = 1

// schemaVersionFile is a plain-text sidecar next to packages.db, not a
// row in a table, so a version mismatch can be detected before even
// opening the (possibly incompatible) database file. The same base name
// also names the file the mirrored bundle itself carries (spec.md §6's
// wire format) inside repoDir; the two live in different directories.
const schemaVersionFile = "schema.version"

// dbVersionFile is the mirror bundle's own small version marker
// (spec.md §6), read for the TTL-refresh pre-check of spec.md §4.2
// ("attempts to read a small version file from the remote"). A copy is
// cached at dir/db.version after every successful full re-mirror so the
// next pre-check has something local to compare against.
const dbVersionFile = "db.version"

// projectTypeLibrary/Executable/RootProject mirror the original
// ProjectType enum: a RootProject has no ProjectVersions rows of its
// own and expands to its Library/Executable children (resolve.go).
const (
	projectTypeRootProject = 0
	projectTypeLibrary     = 1
	projectTypeExecutable  = 2
)

// schema is the catalog's DDL, grounded on
// _examples/original_source/src/common/database.cpp's data_tables
// (Projects/ProjectVersions/ProjectVersionDependencies).
const schema = `
CREATE TABLE "Projects" (
	"id" INTEGER NOT NULL,
	"path" TEXT(2048) NOT NULL,
	"type_id" INTEGER NOT NULL,
	"flags" INTEGER NOT NULL,
	PRIMARY KEY ("id")
);
CREATE UNIQUE INDEX "ProjectPath" ON "Projects" ("path" ASC);

CREATE TABLE "ProjectVersions" (
	"id" INTEGER NOT NULL,
	"project_id" INTEGER NOT NULL,
	"major" INTEGER,
	"minor" INTEGER,
	"patch" INTEGER,
	"branch" TEXT,
	"flags" INTEGER NOT NULL,
	"created" DATETIME NOT NULL,
	"sha256" TEXT NOT NULL,
	PRIMARY KEY ("id"),
	FOREIGN KEY ("project_id") REFERENCES "Projects" ("id")
);
CREATE INDEX "ProjectVersionsProjectId" ON "ProjectVersions" ("project_id");

CREATE TABLE "ProjectVersionDependencies" (
	"project_version_id" INTEGER NOT NULL,
	"project_dependency_id" INTEGER NOT NULL,
	"version" TEXT NOT NULL,
	"flags" INTEGER NOT NULL,
	PRIMARY KEY ("project_version_id", "project_dependency_id"),
	FOREIGN KEY ("project_version_id") REFERENCES "ProjectVersions" ("id"),
	FOREIGN KEY ("project_dependency_id") REFERENCES "Projects" ("id")
);
`
