/*
Package draftupgrade rewrites draft change lists so that they stay valid after
the exploration they were written against has moved to a newer states schema.

A draft is a change list authored against exploration version V1. When the
exploration is now at V2, every commit in (V1, V2] is inspected. The draft can
be carried forward only if each of those commits is a pure states schema
migration: exactly one commit command, tagged
migrate_states_schema_to_latest_version, moving the schema from N to N+1.
For each such commit the converter registered for the step (N, N+1) rewrites
the change list. Commits that author content break the chain and the draft is
reported as not migratable; the caller must then discard it.

Registering a converter.

Converters are small pure functions keyed by the exact step they handle:

	reg := draftupgrade.NewRegistry()
	reg.MustRegister(draftupgrade.Step{From: 27, To: 28}, convertV27ToV28)

A converter must keep the length and order of the list and return every change
it does not target untouched. When a targeted change does not have the
expected nested shape it is returned as is. Converters never modify the list
or the values they receive.

Steps that need no draft change are registered with NoModification so that the
missing converter case stays reserved for schema bumps nobody implemented yet.

Nested rewrites.

Rich text embedded deep inside a change value is addressed with Path rules
(see RewriteStrings). Rule inputs are addressed per rule type, and rule types
without a rule are left alone.
*/
package draftupgrade
