package scanner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/governor/internal/inventory"
)

func TestExtractSimpleReferences(t *testing.T) {
	content := `
const users = db.collection('users');
const orders = firestore.collection("orders");
const plans = collection(` + "`plans`" + `);
`
	ext := extract(content)

	require.Len(t, ext.Refs, 3)
	require.Equal(t, "users", ext.Refs[0].Name)
	require.Equal(t, 2, ext.Refs[0].Line)
	require.Equal(t, "orders", ext.Refs[1].Name)
	require.Equal(t, "plans", ext.Refs[2].Name)
	require.Empty(t, ext.Patterns)
}

func TestExtractQueryChain(t *testing.T) {
	content := `const q = db.collection('orders')
  .where('organizationId', '==', orgId)
  .where('status', '==', 'active')
  .orderBy('createdAt', 'desc')
  .limit(20);`

	ext := extract(content)

	require.Len(t, ext.Refs, 1)
	require.Len(t, ext.Patterns, 1)

	p := ext.Patterns[0]
	require.Equal(t, "orders", p.Collection)
	require.Equal(t, 1, p.Line)
	require.Len(t, p.Predicates, 3)

	require.Equal(t, inventory.Predicate{Field: "organizationId", Op: inventory.OpEq}, p.Predicates[0])
	require.Equal(t, inventory.Predicate{Field: "status", Op: inventory.OpEq}, p.Predicates[1])
	require.Equal(t, inventory.Predicate{
		Field:     "createdAt",
		Op:        inventory.OpOrderBy,
		Direction: inventory.DirectionDesc,
	}, p.Predicates[2])

	require.NotNil(t, p.Limit)
	require.Equal(t, 20, *p.Limit)
}

func TestOrderByDefaultsAscending(t *testing.T) {
	ext := extract(`collection('licenses').orderBy('expiresAt')`)

	require.Len(t, ext.Patterns, 1)
	require.Equal(t, inventory.DirectionAsc, ext.Patterns[0].Predicates[0].Direction)
}

func TestChainStopsAtUnknownCall(t *testing.T) {
	ext := extract(`db.collection('users').doc(id).where('name', '==', x)`)

	require.Len(t, ext.Refs, 1)
	// The .doc() call ends the chain, so the trailing .where() is not part
	// of a query against users.
	require.Empty(t, ext.Patterns)
}

func TestDynamicArgumentsAreIgnored(t *testing.T) {
	ext := extract(`db.collection('users').where(fieldName, '==', value).limit(pageSize)`)

	require.Len(t, ext.Refs, 1)
	require.Empty(t, ext.Patterns)
}

func TestCollectionGroupReferences(t *testing.T) {
	ext := extract(`db.collectionGroup('lineItems').where('sku', '==', sku)`)

	require.Len(t, ext.Refs, 1)
	require.Equal(t, "lineItems", ext.Refs[0].Name)
	require.Len(t, ext.Patterns, 1)
}

func TestInvalidNamesAreRejected(t *testing.T) {
	content := `
collection('true');
collection('GET');
collection('COLLECTION_NAME');
collection('String');
collection('x');
collection('users');
`
	ext := extract(content)

	require.Len(t, ext.Refs, 1)
	require.Equal(t, "users", ext.Refs[0].Name)
	require.Len(t, ext.Rejected, 5)
}

func TestValidCollectionName(t *testing.T) {
	valid := []string{"users", "auditLogs", "feature-flags", "org_members", "Users"}
	for _, name := range valid {
		require.True(t, validCollectionName(name), "expected %q to be valid", name)
	}

	invalid := []string{"", "x", "TRUE", "POST", "API_KEYS", "9lives", "with space", "promise"}
	for _, name := range invalid {
		require.False(t, validCollectionName(name), "expected %q to be rejected", name)
	}
}

func TestSplitArgsRespectsQuotes(t *testing.T) {
	args := splitArgs(`'a,b', "==", value`)

	require.Equal(t, []string{`'a,b'`, `"=="`, "value"}, args)
}
