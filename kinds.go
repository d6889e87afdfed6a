package nostr

// Event kinds relevant to the NIP-46 remote-signing surface and to the ACL
// evaluator's trust-level defaults. Kind is a plain int here (not a distinct
// type) because it flows through JSON, SQL, and Filter.Kinds without needing
// conversions at every boundary.
const (
	KindProfileMetadata          = 0
	KindTextNote                 = 1
	KindRecommendServer          = 2
	KindContactList              = 3
	KindEncryptedDirectMessage   = 4
	KindDeletion                 = 5
	KindRepost                   = 6
	KindReaction                 = 7
	KindGenericRepost            = 16
	KindChannelCreation          = 40
	KindChannelMetadata          = 41
	KindChannelMessage           = 42
	KindChannelHideMessage       = 43
	KindChannelMuteUser          = 44
	KindFileMetadata             = 1063
	KindComment                  = 1111
	KindTorrentComment           = 1808
	KindZapRequest               = 9734
	KindZap                      = 9735
	KindMuteList                 = 10000
	KindPinList                  = 10001
	KindRelayListMetadata        = 10002
	KindNWCWalletInfo            = 13194
	KindClientAuthentication     = 22242
	KindNWCWalletRequest         = 23194
	KindNWCWalletResponse        = 23195
	KindNostrConnect             = 24133
	KindCategorizedPeopleList    = 30000
	KindCategorizedBookmarksList = 30001
	KindArticle                  = 30023
	KindDraftArticle             = 30024
	KindBlobDescriptor           = 24242
)
