package servicedb

// schema is the DDL for service.db, translated table-for-table from
// _examples/original_source/src/common/database.cpp's
// ServiceDatabase::createTables. Single-row tables (ClientStamp, NRuns,
// PackagesDbSchemaVersion, NextClientVersionCheck) are seeded with their
// one row here so callers can always UPDATE rather than upsert.
const schema = `
create table if not exists ClientStamp (
	stamp text not null
);

create table if not exists NRuns (
	n_runs integer not null default 0
);
insert into NRuns (n_runs) select 0 where not exists (select 1 from NRuns);

create table if not exists PackagesDbSchemaVersion (
	version integer not null default 0
);
insert into PackagesDbSchemaVersion (version) select 0 where not exists (select 1 from PackagesDbSchemaVersion);

create table if not exists NextClientVersionCheck (
	timestamp integer not null default 0
);
insert into NextClientVersionCheck (timestamp) select 0 where not exists (select 1 from NextClientVersionCheck);

create table if not exists FileStamps (
	file text not null primary key,
	stamp integer not null
);

create table if not exists TableHashes (
	tbl text not null primary key,
	hash text not null
);

create table if not exists StartupActions (
	id integer not null,
	action integer not null,
	primary key (id, action)
);

create table if not exists ConfigHashes (
	hash text not null primary key,
	config text not null,
	config_hash text not null
);

create table if not exists PackageDependenciesHashes (
	package text not null primary key,
	dependencies text not null
);

create table if not exists InstalledPackages (
	id integer primary key autoincrement,
	package text not null,
	version text not null,
	hash text not null,
	unique (package, version)
);

create table if not exists SourceGroups (
	id integer primary key autoincrement,
	hash text not null unique
);

create table if not exists SourceGroupFiles (
	group_id integer not null,
	file text not null,
	foreign key (group_id) references SourceGroups (id)
);
`
