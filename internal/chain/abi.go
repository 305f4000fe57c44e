package chain

// adContractABI covers the calls and events the service uses on the
// campaign escrow contract. A truffle artifact, when configured, replaces it.
const adContractABI = `[
	{
		"inputs": [
			{"name": "adId", "type": "uint256"},
			{"name": "influencerId", "type": "uint256"},
			{"name": "influencer", "type": "address"}
		],
		"name": "payInfluencer",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "adId", "type": "uint256"},
			{"name": "advertiser", "type": "address"}
		],
		"name": "refundAdvertiser",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getBalance",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "adId", "type": "uint256"}],
		"name": "getAd",
		"outputs": [
			{"name": "advertiser", "type": "address"},
			{"name": "reward", "type": "uint256"},
			{"name": "maxInfluencer", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "acceptedCount", "type": "uint256"},
			{"name": "isClosed", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "adId", "type": "uint256"},
			{"name": "influencer", "type": "address"}
		],
		"name": "getInfluencerInfo",
		"outputs": [
			{"name": "influencer", "type": "address"},
			{"name": "paid", "type": "bool"},
			{"name": "joinTime", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "adId", "type": "uint256"},
			{"indexed": true, "name": "influencer", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "InfluencerPaid",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "adId", "type": "uint256"},
			{"indexed": true, "name": "advertiser", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "AdvertiserRefunded",
		"type": "event"
	}
]`
