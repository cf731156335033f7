package event

import "testing"

func TestMatchesAddressCaseInsensitive(t *testing.T) {
	e := Event{Payload: EVMPayload{Address: "0xABC"}}
	if !e.MatchesAddress([]string{"0xabc"}) {
		t.Fatal("expected case-insensitive address match")
	}
	if e.MatchesAddress([]string{"0xdef"}) {
		t.Fatal("expected no match for unrelated address")
	}
	if !e.MatchesAddress(nil) {
		t.Fatal("empty address filter should match everything")
	}
}

func TestMatchesAttributesRequiresEveryKey(t *testing.T) {
	e := Event{Payload: GenericPayload{Attributes: map[string]string{"symbol": "ETH", "entity_id": "acct1"}}}
	if !e.MatchesAttributes(map[string]string{"symbol": "ETH"}) {
		t.Fatal("expected attribute match")
	}
	if e.MatchesAttributes(map[string]string{"symbol": "BTC"}) {
		t.Fatal("expected mismatch on wrong value")
	}
	if e.MatchesAttributes(map[string]string{"missing": "x"}) {
		t.Fatal("expected mismatch on missing key")
	}
	if !e.MatchesEntityIDs([]string{"acct1", "acct2"}) {
		t.Fatal("expected entity id match")
	}
}

func TestMatchesTagsFromCosmosAttributes(t *testing.T) {
	e := Event{Payload: CosmosPayload{Attributes: []EventAttribute{
		{Key: "tags", Value: "stablecoin, defi"},
	}}}
	if !e.MatchesTags([]string{"defi"}) {
		t.Fatal("expected tag match")
	}
	if e.MatchesTags([]string{"nft"}) {
		t.Fatal("expected no match for absent tag")
	}
}
